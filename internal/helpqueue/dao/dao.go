// Package dao is the data access object for the help queue.
package dao

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	gutils "github.com/Laisky/go-utils/v6"
	"github.com/Laisky/zap"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongoLib "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cs-open-lab/openlab-bot/internal/helpqueue/model"
	"github.com/cs-open-lab/openlab-bot/library/db/mongo"
)

const (
	helpRequestColName = "help_requests"
	classColName       = "classes"
)

// Queue is the help-queue store.
type Queue struct {
	db mongo.DB
}

// NewQueue creates a new store over the given database.
func NewQueue(db mongo.DB) *Queue {
	return &Queue{db}
}

func (d *Queue) GetHelpRequestCol() *mongoLib.Collection {
	return d.db.GetCol(helpRequestColName)
}
func (d *Queue) GetClassCol() *mongoLib.Collection {
	return d.db.GetCol(classColName)
}

// CreateRequest inserts a fresh draft for author bound to its private channel.
func (d *Queue) CreateRequest(ctx context.Context, author, channelID int64) (*model.HelpRequest, error) {
	logger := gmw.GetLogger(ctx).Named("helpqueue_create_request")

	rec := &model.HelpRequest{
		Tag:           uuid.NewString()[:8],
		Author:        author,
		Status:        model.StatusDraft,
		CreationStage: model.StageClass,
		Mentors:       []int64{},
		ChannelID:     channelID,
		CreatedAt:     gutils.Clock.GetUTCNow(),
		ModifiedAt:    gutils.Clock.GetUTCNow(),
	}

	ret, err := d.GetHelpRequestCol().InsertOne(ctx, rec)
	if err != nil {
		return nil, errors.Wrap(err, "insert help request")
	}

	rec.ID = ret.InsertedID.(primitive.ObjectID)
	logger.Info("create help request",
		zap.String("id", rec.ID.Hex()),
		zap.Int64("author", author))
	return rec, nil
}

// GetRequestForChannel loads the record bound to a private channel.
func (d *Queue) GetRequestForChannel(ctx context.Context, channelID int64) (*model.HelpRequest, error) {
	rec := new(model.HelpRequest)
	if err := d.GetHelpRequestCol().FindOne(ctx, bson.M{
		"channel_id": channelID,
		"status":     bson.M{"$in": activeStatuses()},
	}, options.FindOne().SetSort(bson.M{"created_at": -1})).Decode(rec); err != nil {
		if mongo.NotFound(err) {
			return nil, errors.Wrapf(model.ErrNotFound, "request for channel %d", channelID)
		}
		return nil, errors.Wrap(err, "load help request by channel")
	}
	return rec, nil
}

// GetRequestForMessage loads the record behind a live queue posting.
func (d *Queue) GetRequestForMessage(ctx context.Context, messageID int) (*model.HelpRequest, error) {
	rec := new(model.HelpRequest)
	if err := d.GetHelpRequestCol().FindOne(ctx, bson.M{
		"message_id": messageID,
	}).Decode(rec); err != nil {
		if mongo.NotFound(err) {
			return nil, errors.Wrapf(model.ErrNotFound, "request for message %d", messageID)
		}
		return nil, errors.Wrap(err, "load help request by message")
	}
	return rec, nil
}

func activeStatuses() []model.Status {
	return []model.Status{model.StatusDraft, model.StatusUnclaimed, model.StatusClaimed}
}

// GetActiveRequestForUser returns the author's single active request,
// or ErrNotFound when the author has none.
func (d *Queue) GetActiveRequestForUser(ctx context.Context, author int64) (*model.HelpRequest, error) {
	rec := new(model.HelpRequest)
	if err := d.GetHelpRequestCol().FindOne(ctx, bson.M{
		"author": author,
		"status": bson.M{"$in": activeStatuses()},
	}).Decode(rec); err != nil {
		if mongo.NotFound(err) {
			return nil, errors.Wrapf(model.ErrNotFound, "active request for user %d", author)
		}
		return nil, errors.Wrap(err, "load active help request")
	}
	return rec, nil
}

// ApplyTransition persists next, guarded by prev's full transition-relevant
// state. The filter makes the read-modify-write atomic: a concurrent writer
// changes status, stage or mentors, so the second write matches nothing and
// returns ErrConflict instead of double-applying.
func (d *Queue) ApplyTransition(ctx context.Context, prev, next *model.HelpRequest) error {
	ret, err := d.GetHelpRequestCol().UpdateOne(ctx,
		transitionFilter(prev),
		transitionUpdate(next),
	)
	if err != nil {
		return errors.Wrap(err, "update help request")
	}
	if ret.MatchedCount == 0 {
		return errors.Wrapf(model.ErrConflict,
			"request %s changed underneath, transition not applied", prev.ID.Hex())
	}
	return nil
}

func transitionFilter(prev *model.HelpRequest) bson.M {
	return bson.M{
		"_id":            prev.ID,
		"status":         prev.Status,
		"creation_stage": prev.CreationStage,
		"mentors":        prev.Mentors,
	}
}

func transitionUpdate(next *model.HelpRequest) bson.M {
	return bson.M{"$set": bson.M{
		"status":         next.Status,
		"creation_stage": next.CreationStage,
		"class_name":     next.ClassName,
		"title":          next.Title,
		"description":    next.Description,
		"mentors":        next.Mentors,
		"canceler":       next.Canceler,
		"message_id":     next.MessageID,
		"modified_at":    next.ModifiedAt,
	}}
}

// OpenRequests lists published, unresolved requests in queue order.
func (d *Queue) OpenRequests(ctx context.Context) (recs []model.HelpRequest, err error) {
	cur, err := d.GetHelpRequestCol().Find(ctx, bson.M{
		"status": bson.M{"$in": []model.Status{model.StatusUnclaimed, model.StatusClaimed}},
	}, options.Find().SetSort(bson.M{"created_at": 1}))
	if err != nil {
		return nil, errors.Wrap(err, "find open help requests")
	}
	if err = cur.All(ctx, &recs); err != nil {
		return nil, errors.Wrap(err, "decode open help requests")
	}
	return recs, nil
}

// StaleDrafts lists drafts untouched since the cutoff.
func (d *Queue) StaleDrafts(ctx context.Context, cutoff time.Time) (recs []model.HelpRequest, err error) {
	cur, err := d.GetHelpRequestCol().Find(ctx, bson.M{
		"status":      model.StatusDraft,
		"modified_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return nil, errors.Wrap(err, "find stale drafts")
	}
	if err = cur.All(ctx, &recs); err != nil {
		return nil, errors.Wrap(err, "decode stale drafts")
	}
	return recs, nil
}
