package service

import (
	"context"
	"fmt"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	gutils "github.com/Laisky/go-utils/v6"
	"github.com/Laisky/zap"
	tb "gopkg.in/telebot.v3"

	"github.com/cs-open-lab/openlab-bot/internal/helpqueue/intake"
	"github.com/cs-open-lab/openlab-bot/internal/helpqueue/lifecycle"
	"github.com/cs-open-lab/openlab-bot/internal/helpqueue/model"
)

func (s *HelpQueue) handleNewRequest(c tb.Context) error {
	ctx := context.Background()
	if err := s.StartIntake(ctx, c.Sender().ID); err != nil {
		if errors.Is(err, model.ErrConflict) {
			return c.Reply("You can only have one active help request at a time. " +
				"Please finish or cancel your existing help request before starting a new one.")
		}
		gmw.GetLogger(ctx).Error("start intake", zap.Error(err))
		return c.Reply("An error occurred starting your help request. Please try again!")
	}
	return nil
}

// StartIntake opens the private conversation and creates the draft record.
// It fails with ErrConflict while the author still has an active request.
func (s *HelpQueue) StartIntake(ctx context.Context, author int64) error {
	logger := gmw.GetLogger(ctx).Named("helpqueue_start_intake")

	if _, err := s.dao.GetActiveRequestForUser(ctx, author); err == nil {
		return errors.Wrapf(model.ErrConflict, "user %d already has an active request", author)
	} else if !errors.Is(err, model.ErrNotFound) {
		return errors.Wrap(err, "check active request")
	}

	channelID, err := s.gw.CreatePrivateChannel(ctx, author)
	if err != nil {
		return errors.Wrap(err, "create request channel")
	}

	rec, err := s.dao.CreateRequest(ctx, author, channelID)
	if err != nil {
		return errors.Wrap(err, "create request record")
	}

	logger.Info("started intake",
		zap.String("id", rec.ID.Hex()),
		zap.Int64("author", author))
	s.sendToChannel(ctx, channelID,
		"Welcome to your new help request! I need a few details from you "+
			"so we can build and publish your request on the help queue.\n\n"+promptClass)
	return nil
}

func (s *HelpQueue) handleIntakeReply(c tb.Context) error {
	// Intake only happens in the private request conversation.
	if c.Chat() == nil || c.Chat().Type != tb.ChatPrivate {
		return nil
	}
	return s.AdvanceIntake(context.Background(), c.Chat().ID, c.Text())
}

// AdvanceIntake routes one intake answer through the state machine and
// advances the conversational form. Validation failures re-prompt the same
// stage; the record is only written on a successful transition.
func (s *HelpQueue) AdvanceIntake(ctx context.Context, channelID int64, answer string) error {
	logger := gmw.GetLogger(ctx).Named("helpqueue_advance_intake")

	rec, err := s.dao.GetRequestForChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.sendToChannel(ctx, channelID,
				"I wasn't able to find a help request for this conversation "+
					"(perhaps it got deleted by mistake). Please start a new request with /request.")
			return nil
		}
		return errors.Wrap(err, "load request by channel")
	}
	if rec.Status != model.StatusDraft {
		// Only parse answers while the request is being built.
		return nil
	}

	unlock := s.lockRequest(rec.ID)
	defer unlock()

	ev, guidance, err := s.parseAnswer(ctx, rec, answer)
	if err != nil {
		return errors.Wrap(err, "parse intake answer")
	}
	if guidance != "" {
		s.sendToChannel(ctx, channelID, guidance)
		return nil
	}

	next, effects, err := lifecycle.Transition(*rec, ev, gutils.Clock.GetUTCNow())
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			s.sendToChannel(ctx, channelID, stageRetryPrompt(rec.CreationStage))
			return nil
		}
		if errors.Is(err, model.ErrConflict) {
			logger.Warn("intake answer rejected", zap.Error(err), zap.String("id", rec.ID.Hex()))
			return nil
		}
		return errors.Wrap(err, "apply intake answer")
	}

	for _, eff := range effects {
		switch eff {
		case lifecycle.EffectPublish:
			return s.publish(ctx, rec, &next)
		case lifecycle.EffectPrompt:
			if err := s.dao.ApplyTransition(ctx, rec, &next); err != nil {
				if errors.Is(err, model.ErrConflict) {
					logger.Warn("concurrent intake write", zap.String("id", rec.ID.Hex()))
					return nil
				}
				return errors.Wrap(err, "persist intake answer")
			}
			s.sendToChannel(ctx, channelID, s.stagePrompt(ctx, &next))
		}
	}
	return nil
}

// parseAnswer validates the free-text answer for the record's current stage
// and produces the typed event. A non-empty guidance means the answer was
// rejected at the boundary and the author should be re-prompted with it.
func (s *HelpQueue) parseAnswer(ctx context.Context, rec *model.HelpRequest, answer string) (lifecycle.Event, string, error) {
	switch rec.CreationStage {
	case model.StageClass:
		className, ok := intake.ParseClassName(answer)
		if !ok {
			return nil, "I didn't understand this class name. *What class is this request for?* " +
				"Please enter it in the format `CMPSC XXX`.", nil
		}
		exists, err := s.dao.ClassExists(ctx, className)
		if err != nil {
			return nil, "", errors.Wrap(err, "check class")
		}
		if !exists {
			return nil, fmt.Sprintf("It looks like the class you entered, %s, doesn't use "+
				"this open lab yet. Please use your class' designated office hours method(s) "+
				"to request help, or specify a different class number.", className), nil
		}
		return lifecycle.ClassAnswer{ClassName: className}, "", nil

	case model.StageTitle:
		return lifecycle.TitleAnswer{Title: intake.CollapseWhitespace(answer)}, "", nil

	case model.StageDescription:
		return lifecycle.DescriptionAnswer{Description: intake.CollapseWhitespace(answer)}, "", nil

	case model.StageConfirm:
		yes, ok := intake.ParseYesNo(answer)
		if !ok {
			return nil, "I didn't understand your answer. *Is this request ready to submit?* " +
				"Reply with `yes` or `no`.", nil
		}
		return lifecycle.ConfirmAnswer{Yes: yes}, "", nil
	}

	return nil, "", errors.Errorf("unexpected creation stage %d", rec.CreationStage)
}

// publish creates the live posting then persists the published record. The
// posting is sent first so a published record always carries its message ref;
// if the record changed underneath, the orphaned posting is removed again.
func (s *HelpQueue) publish(ctx context.Context, prev, next *model.HelpRequest) error {
	logger := gmw.GetLogger(ctx).Named("helpqueue_publish")

	names := s.fetchNames(ctx, next)
	msgID, err := s.gw.SendPosting(ctx, s.cfg.QueueChat, renderPosting(*next, names))
	if err != nil {
		logger.Error("send queue posting", zap.Error(err), zap.String("id", next.ID.Hex()))
		s.sendToChannel(ctx, next.ChannelID,
			"I couldn't publish your help request just now. Please reply `yes` again to retry.")
		return nil
	}

	next.MessageID = msgID
	if err := s.dao.ApplyTransition(ctx, prev, next); err != nil {
		if delErr := s.gw.DeleteMessage(ctx, s.cfg.QueueChat, msgID); delErr != nil {
			logger.Warn("remove orphaned posting", zap.Error(delErr))
		}
		return errors.Wrap(err, "persist published request")
	}

	logger.Info("published help request",
		zap.String("id", next.ID.Hex()),
		zap.String("class", next.ClassName))
	s.sendToChannel(ctx, next.ChannelID,
		"I've published your help request.\n\n"+BuildSummary(*next, names).Render())
	return nil
}

const promptClass = "*First, what class is this help request for?* " +
	"Enter a class number in the format `CMPSC XXX`."

// stagePrompt builds the prompt for the stage the record just advanced to.
func (s *HelpQueue) stagePrompt(ctx context.Context, rec *model.HelpRequest) string {
	switch rec.CreationStage {
	case model.StageClass:
		return "Let's start over from step one. " + promptClass
	case model.StageTitle:
		return fmt.Sprintf("I'll create this request for %s.\n\n"+
			"*Next, what should I title your help request?* Provide a few words to "+
			"describe your request (no more than %d characters).",
			rec.ClassName, model.MaxTitleLength)
	case model.StageDescription:
		return fmt.Sprintf("I'll create this request with title `%s`.\n\n"+
			"*Finally, can you provide a short description of your request?* Provide a "+
			"few sentences to describe your request (no more than %d characters).",
			rec.Title, model.MaxDescriptionLength)
	case model.StageConfirm:
		preview := BuildSummary(*rec, s.fetchNames(ctx, rec)).Render()
		return "Here's your help request.\n\n" + preview +
			"\n\n*Ready to submit?* Reply with `yes` to submit or `no` to start over."
	}
	return ""
}

// stageRetryPrompt re-prompts the stage that rejected an oversized answer.
func stageRetryPrompt(stage int) string {
	switch stage {
	case model.StageTitle:
		return fmt.Sprintf("This title is too long. Please keep your request title "+
			"shorter than %d characters.", model.MaxTitleLength)
	case model.StageDescription:
		return fmt.Sprintf("This description is too long. Please keep your request "+
			"description shorter than %d characters.", model.MaxDescriptionLength)
	}
	return "I didn't understand your answer. Please try again!"
}

// sendToChannel posts into the private conversation; gateway failures are
// logged and swallowed, the stored record stays the source of truth.
func (s *HelpQueue) sendToChannel(ctx context.Context, channelID int64, text string) {
	if _, err := s.gw.SendMessage(ctx, channelID, text); err != nil {
		gmw.GetLogger(ctx).Error("send to request channel",
			zap.Error(err), zap.Int64("channel", channelID))
	}
}
