package model

import (
	"context"

	"github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"

	"github.com/cs-open-lab/openlab-bot/library/db/mongo"
)

func New(ctx context.Context) (db mongo.DB, err error) {
	db, err = mongo.NewDB(ctx,
		mongo.DialInfo{
			Addr:   gconfig.Shared.GetString("settings.db.helpqueue.addr"),
			DBName: gconfig.Shared.GetString("settings.db.helpqueue.db"),
			User:   gconfig.Shared.GetString("settings.db.helpqueue.user"),
			Pwd:    gconfig.Shared.GetString("settings.db.helpqueue.pwd"),
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "dial db")
	}

	return db, nil
}
