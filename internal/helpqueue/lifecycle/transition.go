package lifecycle

import (
	"time"
	"unicode/utf8"

	"github.com/Laisky/errors/v2"

	"github.com/cs-open-lab/openlab-bot/internal/helpqueue/model"
)

// Transition applies one event to a request and returns the new record value
// plus the outward effects the caller must execute. The input record is never
// mutated; rejections return the zero record and an error wrapping one of the
// model sentinels (ErrValidation, ErrConflict).
func Transition(rec model.HelpRequest, ev Event, now time.Time) (model.HelpRequest, []Effect, error) {
	if rec.Status.Terminal() {
		return model.HelpRequest{}, nil,
			errors.Wrapf(model.ErrConflict, "request is already %s", rec.Status)
	}

	switch ev := ev.(type) {
	case ClassAnswer:
		return transitionClass(rec, ev, now)
	case TitleAnswer:
		return transitionTitle(rec, ev, now)
	case DescriptionAnswer:
		return transitionDescription(rec, ev, now)
	case ConfirmAnswer:
		return transitionConfirm(rec, ev, now)
	case Claim:
		return transitionClaim(rec, ev, now)
	case Unclaim:
		return transitionUnclaim(rec, ev, now)
	case Cancel:
		return transitionCancel(rec, ev, now)
	case Complete:
		return transitionComplete(rec, now)
	case Expire:
		return transitionExpire(rec, now)
	default:
		return model.HelpRequest{}, nil, errors.Errorf("unknown event %T", ev)
	}
}

func requireDraftStage(rec model.HelpRequest, stage int) error {
	if rec.Status != model.StatusDraft {
		return errors.Wrapf(model.ErrConflict,
			"request is %s, intake answers only apply to drafts", rec.Status)
	}
	if rec.CreationStage != stage {
		return errors.Wrapf(model.ErrValidation,
			"answer targets stage %d but request is at stage %d", stage, rec.CreationStage)
	}
	return nil
}

func transitionClass(rec model.HelpRequest, ev ClassAnswer, now time.Time) (model.HelpRequest, []Effect, error) {
	if err := requireDraftStage(rec, model.StageClass); err != nil {
		return model.HelpRequest{}, nil, err
	}

	rec.ClassName = ev.ClassName
	rec.CreationStage = model.StageTitle
	rec.ModifiedAt = now
	return rec, []Effect{EffectPrompt}, nil
}

func transitionTitle(rec model.HelpRequest, ev TitleAnswer, now time.Time) (model.HelpRequest, []Effect, error) {
	if err := requireDraftStage(rec, model.StageTitle); err != nil {
		return model.HelpRequest{}, nil, err
	}
	if utf8.RuneCountInString(ev.Title) > model.MaxTitleLength {
		return model.HelpRequest{}, nil,
			errors.Wrapf(model.ErrValidation, "title exceeds %d characters", model.MaxTitleLength)
	}

	rec.Title = ev.Title
	rec.CreationStage = model.StageDescription
	rec.ModifiedAt = now
	return rec, []Effect{EffectPrompt}, nil
}

func transitionDescription(rec model.HelpRequest, ev DescriptionAnswer, now time.Time) (model.HelpRequest, []Effect, error) {
	if err := requireDraftStage(rec, model.StageDescription); err != nil {
		return model.HelpRequest{}, nil, err
	}
	if utf8.RuneCountInString(ev.Description) > model.MaxDescriptionLength {
		return model.HelpRequest{}, nil,
			errors.Wrapf(model.ErrValidation, "description exceeds %d characters", model.MaxDescriptionLength)
	}

	rec.Description = ev.Description
	rec.CreationStage = model.StageConfirm
	rec.ModifiedAt = now
	return rec, []Effect{EffectPrompt}, nil
}

func transitionConfirm(rec model.HelpRequest, ev ConfirmAnswer, now time.Time) (model.HelpRequest, []Effect, error) {
	if err := requireDraftStage(rec, model.StageConfirm); err != nil {
		return model.HelpRequest{}, nil, err
	}

	if !ev.Yes {
		// Start over from stage one with all drafted fields cleared.
		rec.ClassName = ""
		rec.Title = ""
		rec.Description = ""
		rec.CreationStage = model.StageClass
		rec.ModifiedAt = now
		return rec, []Effect{EffectPrompt}, nil
	}

	rec.Status = model.StatusUnclaimed
	rec.ModifiedAt = now
	return rec, []Effect{EffectPublish}, nil
}

func requirePublished(rec model.HelpRequest) error {
	if rec.Status != model.StatusUnclaimed && rec.Status != model.StatusClaimed {
		return errors.Wrapf(model.ErrConflict,
			"request is %s, not on the queue", rec.Status)
	}
	return nil
}

func transitionClaim(rec model.HelpRequest, ev Claim, now time.Time) (model.HelpRequest, []Effect, error) {
	if err := requirePublished(rec); err != nil {
		return model.HelpRequest{}, nil, err
	}
	if ev.Mentor == rec.Author {
		return model.HelpRequest{}, nil,
			errors.Wrap(model.ErrConflict, "you can't claim your own request")
	}
	if rec.HasMentor(ev.Mentor) {
		return model.HelpRequest{}, nil,
			errors.Wrap(model.ErrConflict, "you have already claimed this request")
	}

	rec.Mentors = append(append([]int64{}, rec.Mentors...), ev.Mentor)
	rec.Status = model.StatusClaimed
	rec.ModifiedAt = now
	return rec, []Effect{EffectRefreshPosting, EffectGrantAccess, EffectNotifyChannel}, nil
}

func transitionUnclaim(rec model.HelpRequest, ev Unclaim, now time.Time) (model.HelpRequest, []Effect, error) {
	if err := requirePublished(rec); err != nil {
		return model.HelpRequest{}, nil, err
	}
	if !rec.HasMentor(ev.Mentor) {
		return model.HelpRequest{}, nil,
			errors.Wrap(model.ErrConflict, "you can't withdraw from a request you haven't claimed")
	}

	mentors := make([]int64, 0, len(rec.Mentors)-1)
	for _, m := range rec.Mentors {
		if m != ev.Mentor {
			mentors = append(mentors, m)
		}
	}
	rec.Mentors = mentors
	if len(mentors) == 0 {
		rec.Status = model.StatusUnclaimed
	} else {
		rec.Status = model.StatusClaimed
	}
	rec.ModifiedAt = now
	return rec, []Effect{EffectRefreshPosting, EffectNotifyChannel}, nil
}

func transitionCancel(rec model.HelpRequest, ev Cancel, now time.Time) (model.HelpRequest, []Effect, error) {
	if err := requirePublished(rec); err != nil {
		return model.HelpRequest{}, nil, err
	}

	rec.Status = model.StatusCanceled
	rec.Canceler = ev.Actor
	rec.ModifiedAt = now
	return rec, []Effect{EffectDeletePosting, EffectArchive, EffectNotifyChannel}, nil
}

func transitionComplete(rec model.HelpRequest, now time.Time) (model.HelpRequest, []Effect, error) {
	if err := requirePublished(rec); err != nil {
		return model.HelpRequest{}, nil, err
	}

	rec.Status = model.StatusCompleted
	rec.ModifiedAt = now
	return rec, []Effect{EffectDeletePosting, EffectArchive, EffectNotifyChannel}, nil
}

// transitionExpire cancels an idle draft. Drafts have no live posting to
// delete and the canceler stays unset, which renders as "due to inactivity".
func transitionExpire(rec model.HelpRequest, now time.Time) (model.HelpRequest, []Effect, error) {
	if rec.Status != model.StatusDraft {
		return model.HelpRequest{}, nil,
			errors.Wrapf(model.ErrConflict, "only drafts expire, request is %s", rec.Status)
	}

	rec.Status = model.StatusCanceled
	rec.ModifiedAt = now
	return rec, []Effect{EffectArchive, EffectNotifyChannel}, nil
}
