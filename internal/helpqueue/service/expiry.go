package service

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	gutils "github.com/Laisky/go-utils/v6"
	"github.com/Laisky/zap"

	"github.com/cs-open-lab/openlab-bot/internal/helpqueue/lifecycle"
	"github.com/cs-open-lab/openlab-bot/internal/helpqueue/model"
)

// RunDraftExpiry cancels drafts left idle longer than the configured TTL.
// Disabled when no TTL is set. Expired drafts never had a live posting, so
// only the archive entry and the channel notice are produced.
func (s *HelpQueue) RunDraftExpiry(ctx context.Context) error {
	if s.cfg.DraftTTL <= 0 {
		return nil
	}

	ticker := time.NewTicker(s.cfg.ExpiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := s.expireStaleDrafts(ctx); err != nil {
			gmw.GetLogger(ctx).Error("expire stale drafts", zap.Error(err))
		}
	}
}

func (s *HelpQueue) expireStaleDrafts(ctx context.Context) error {
	logger := gmw.GetLogger(ctx).Named("helpqueue_draft_expiry")

	cutoff := gutils.Clock.GetUTCNow().Add(-s.cfg.DraftTTL)
	recs, err := s.dao.StaleDrafts(ctx, cutoff)
	if err != nil {
		return errors.Wrap(err, "list stale drafts")
	}

	for i := range recs {
		rec := recs[i]
		if err := s.expireDraft(ctx, &rec); err != nil {
			logger.Warn("expire draft", zap.Error(err), zap.String("id", rec.ID.Hex()))
			continue
		}
		logger.Info("expired idle draft",
			zap.String("id", rec.ID.Hex()),
			zap.Int64("author", rec.Author))
	}
	return nil
}

func (s *HelpQueue) expireDraft(ctx context.Context, rec *model.HelpRequest) error {
	unlock := s.lockRequest(rec.ID)
	defer unlock()

	next, effects, err := lifecycle.Transition(*rec, lifecycle.Expire{}, gutils.Clock.GetUTCNow())
	if err != nil {
		return err
	}
	if err := s.dao.ApplyTransition(ctx, rec, &next); err != nil {
		return errors.Wrap(err, "persist expiry")
	}
	s.releaseRequestLock(rec.ID)

	s.runEffects(ctx, &next, effects, "This help request was canceled due to inactivity.")
	return nil
}
