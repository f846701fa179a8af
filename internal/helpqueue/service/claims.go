package service

import (
	"context"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	gutils "github.com/Laisky/go-utils/v6"
	"github.com/Laisky/zap"
	tb "gopkg.in/telebot.v3"

	"github.com/cs-open-lab/openlab-bot/internal/helpqueue/lifecycle"
	"github.com/cs-open-lab/openlab-bot/internal/helpqueue/model"
)

// claimEventKind enumerates the four controls on a live posting.
type claimEventKind string

const (
	eventClaim    claimEventKind = "claim"
	eventUnclaim  claimEventKind = "unclaim"
	eventComplete claimEventKind = "complete"
	eventCancel   claimEventKind = "cancel"
)

// ephemeralErrTTL bounds how long rejection replies linger in the queue chat.
const ephemeralErrTTL = 15 * time.Second

func (s *HelpQueue) handleClaimEvent(c tb.Context, kind claimEventKind) error {
	ctx := context.Background()
	cb := c.Callback()
	if cb == nil || cb.Message == nil {
		return nil
	}

	// The actor is always the user pressing the button, never a supplied id.
	actor := c.Sender().ID

	err := s.ApplyClaimEvent(ctx, cb.Message.ID, actor, kind)
	if err == nil {
		return c.Respond(&tb.CallbackResponse{})
	}

	switch {
	case errors.Is(err, model.ErrNotFound):
		s.sendEphemeral(ctx,
			"I wasn't able to find the help request (perhaps it was deleted). Please try again!")
	case errors.Is(err, model.ErrConflict):
		s.sendEphemeral(ctx, rejectionText(err))
	default:
		gmw.GetLogger(ctx).Error("apply claim event",
			zap.Error(err), zap.String("kind", string(kind)))
	}
	return c.Respond(&tb.CallbackResponse{Text: rejectionText(err)})
}

// ApplyClaimEvent resolves the record behind a live posting, applies the
// actor's event, persists the result, and reconciles the posting and the
// archive. Replays are rejected by the state-machine guards.
func (s *HelpQueue) ApplyClaimEvent(ctx context.Context, messageID int, actor int64, kind claimEventKind) error {
	logger := gmw.GetLogger(ctx).Named("helpqueue_claim_event")

	rec, err := s.dao.GetRequestForMessage(ctx, messageID)
	if err != nil {
		return errors.Wrap(err, "load request by message")
	}

	unlock := s.lockRequest(rec.ID)
	defer unlock()

	// Reload under the lock: another event may have transitioned the record
	// while we waited, and two valid claims should both land.
	rec, err = s.dao.GetRequestForMessage(ctx, messageID)
	if err != nil {
		return errors.Wrap(err, "reload request by message")
	}

	var ev lifecycle.Event
	switch kind {
	case eventClaim:
		ev = lifecycle.Claim{Mentor: actor}
	case eventUnclaim:
		ev = lifecycle.Unclaim{Mentor: actor}
	case eventCancel:
		ev = lifecycle.Cancel{Actor: actor}
	case eventComplete:
		ev = lifecycle.Complete{Actor: actor}
	default:
		return errors.Errorf("unknown claim event %q", kind)
	}

	next, effects, err := lifecycle.Transition(*rec, ev, gutils.Clock.GetUTCNow())
	if err != nil {
		return err
	}

	if err := s.dao.ApplyTransition(ctx, rec, &next); err != nil {
		return errors.Wrap(err, "persist transition")
	}
	if next.Status.Terminal() {
		s.releaseRequestLock(rec.ID)
	}

	logger.Info("applied claim event",
		zap.String("id", rec.ID.Hex()),
		zap.String("kind", string(kind)),
		zap.Int64("actor", actor),
		zap.String("status", string(next.Status)))

	s.runEffects(ctx, &next, effects, announcement(ctx, s, actor, kind))
	return nil
}

// runEffects reconciles the outward representations with the freshly
// persisted record. Gateway failures are logged, never rolled back; the
// store is the source of truth and the next successful call re-syncs.
func (s *HelpQueue) runEffects(ctx context.Context, rec *model.HelpRequest, effects []lifecycle.Effect, announce string) {
	logger := gmw.GetLogger(ctx).Named("helpqueue_effects")
	names := s.fetchNames(ctx, rec)
	summary := BuildSummary(*rec, names)

	for _, eff := range effects {
		switch eff {
		case lifecycle.EffectRefreshPosting:
			if err := s.gw.EditPosting(ctx, s.cfg.QueueChat, rec.MessageID,
				renderPosting(*rec, names)); err != nil {
				logger.Error("refresh posting", zap.Error(err), zap.String("id", rec.ID.Hex()))
			}

		case lifecycle.EffectDeletePosting:
			if !rec.Published() {
				continue
			}
			if err := s.gw.DeleteMessage(ctx, s.cfg.QueueChat, rec.MessageID); err != nil {
				logger.Error("delete posting", zap.Error(err), zap.String("id", rec.ID.Hex()))
			}

		case lifecycle.EffectArchive:
			if _, err := s.gw.SendMessage(ctx, s.cfg.ArchiveChat, summary.Render()); err != nil {
				logger.Error("archive request", zap.Error(err), zap.String("id", rec.ID.Hex()))
			}

		case lifecycle.EffectGrantAccess:
			if len(rec.Mentors) > 0 {
				mentor := rec.Mentors[len(rec.Mentors)-1]
				if err := s.gw.AssignPermission(ctx, rec.ChannelID, mentor); err != nil {
					logger.Error("grant channel access", zap.Error(err), zap.Int64("mentor", mentor))
				}
			}

		case lifecycle.EffectNotifyChannel:
			s.sendToChannel(ctx, rec.ChannelID, announce+"\n\n"+summary.Render())
		}
	}
}

// announcement renders the "<actor> claimed this request!" line.
func announcement(ctx context.Context, s *HelpQueue, actor int64, kind claimEventKind) string {
	name := s.displayName(ctx, actor)
	switch kind {
	case eventClaim:
		return name + " claimed this request!"
	case eventUnclaim:
		return name + " unclaimed this request!"
	case eventCancel:
		return name + " canceled this request!"
	case eventComplete:
		return name + " completed this request!"
	}
	return ""
}

// sendEphemeral posts a short-lived rejection into the queue chat.
func (s *HelpQueue) sendEphemeral(ctx context.Context, text string) {
	msgID, err := s.gw.SendMessage(ctx, s.cfg.QueueChat, text)
	if err != nil {
		gmw.GetLogger(ctx).Error("send ephemeral reply", zap.Error(err))
		return
	}
	s.gw.DeleteMessageAfter(s.cfg.QueueChat, msgID, ephemeralErrTTL)
}

// rejectionText renders an error for the acting user, dropping the trailing
// sentinel so only the human sentence remains.
func rejectionText(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, model.ErrNotFound) {
		return "help request not found"
	}

	msg := err.Error()
	for _, sentinel := range []error{model.ErrConflict, model.ErrValidation} {
		msg = strings.TrimSuffix(msg, ": "+sentinel.Error())
	}
	return "[Error] " + msg
}
