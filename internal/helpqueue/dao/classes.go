package dao

import (
	"context"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	gutils "github.com/Laisky/go-utils/v6"
	"github.com/Laisky/zap"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cs-open-lab/openlab-bot/internal/helpqueue/model"
	"github.com/cs-open-lab/openlab-bot/library/db/mongo"
)

// ClassExists reports whether a class is registered to use the help queue.
// Stage-one intake rejects class names that are not registered.
func (d *Queue) ClassExists(ctx context.Context, name string) (bool, error) {
	err := d.GetClassCol().FindOne(ctx, bson.M{"name": name}).Err()
	if err != nil {
		if mongo.NotFound(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "load class")
	}
	return true, nil
}

// UpsertClass registers a class, keeping the existing record when present.
func (d *Queue) UpsertClass(ctx context.Context, name string) (*model.Class, error) {
	logger := gmw.GetLogger(ctx).Named("helpqueue_upsert_class")

	info, err := d.GetClassCol().UpdateOne(ctx,
		bson.M{"name": name},
		bson.M{"$setOnInsert": bson.M{
			"name":        name,
			"members":     []int64{},
			"created_at":  gutils.Clock.GetUTCNow(),
			"modified_at": gutils.Clock.GetUTCNow(),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return nil, errors.Wrap(err, "upsert class docu")
	}

	cls := new(model.Class)
	if err = d.GetClassCol().FindOne(ctx, bson.M{"name": name}).Decode(cls); err != nil {
		return nil, errors.Wrap(err, "load class")
	}

	if info.MatchedCount == 0 {
		logger.Info("create class",
			zap.String("name", cls.Name),
			zap.String("id", cls.ID.Hex()))
	}

	return cls, nil
}

// ListClasses lists registered classes in name order.
func (d *Queue) ListClasses(ctx context.Context) (classes []model.Class, err error) {
	cur, err := d.GetClassCol().Find(ctx, bson.M{},
		options.Find().SetSort(bson.M{"name": 1}))
	if err != nil {
		return nil, errors.Wrap(err, "find classes")
	}
	if err = cur.All(ctx, &classes); err != nil {
		return nil, errors.Wrap(err, "decode classes")
	}
	return classes, nil
}

// EnrollClassMember adds uid to the class roster; enrolling twice is a no-op.
func (d *Queue) EnrollClassMember(ctx context.Context, name string, uid int64) error {
	ret, err := d.GetClassCol().UpdateOne(ctx,
		bson.M{"name": name},
		bson.M{
			"$addToSet": bson.M{"members": uid},
			"$set":      bson.M{"modified_at": gutils.Clock.GetUTCNow()},
		},
	)
	if err != nil {
		return errors.Wrap(err, "enroll class member")
	}
	if ret.MatchedCount == 0 {
		return errors.Wrapf(model.ErrNotFound, "class %q", name)
	}
	return nil
}
