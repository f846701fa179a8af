// Package service is the help-queue lifecycle coordinator: it bridges chat
// events to the state machine, persists the outcome, and keeps the live
// posting and the archive consistent with the stored record.
package service

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	"github.com/Laisky/zap"
	"go.mongodb.org/mongo-driver/bson/primitive"
	tb "gopkg.in/telebot.v3"

	"github.com/cs-open-lab/openlab-bot/internal/helpqueue/dao"
	"github.com/cs-open-lab/openlab-bot/internal/helpqueue/gateway"
	"github.com/cs-open-lab/openlab-bot/internal/helpqueue/model"
	"github.com/cs-open-lab/openlab-bot/library/log"
)

var Instance *HelpQueue

func Initialize(ctx context.Context) {
	db, err := model.New(ctx)
	if err != nil {
		log.Logger.Panic("dial helpqueue db", zap.Error(err))
	}

	bot, err := tb.NewBot(tb.Settings{
		Token: gconfig.Shared.GetString("settings.telegram.token"),
		URL:   gconfig.Shared.GetString("settings.telegram.api"),
		Poller: &tb.LongPoller{
			Timeout: 1 * time.Second,
		},
	})
	if err != nil {
		log.Logger.Panic("new telegram bot", zap.Error(err))
	}

	Instance, err = New(ctx,
		dao.NewQueue(db),
		gateway.NewTelegram(bot),
		bot,
		Config{
			QueueChat:      gconfig.Shared.GetInt64("settings.helpqueue.queue_chat"),
			ArchiveChat:    gconfig.Shared.GetInt64("settings.helpqueue.archive_chat"),
			Admins:         parseAdminIDs(gconfig.Shared.GetStringSlice("settings.helpqueue.admins")),
			DraftTTL:       gconfig.Shared.GetDuration("settings.helpqueue.draft_ttl"),
			ExpiryInterval: gconfig.Shared.GetDuration("settings.helpqueue.expiry_check_interval"),
		},
	)
	if err != nil {
		log.Logger.Panic("new help queue service", zap.Error(err))
	}
}

// Store is the persistence surface the coordinator needs; *dao.Queue
// implements it, tests substitute an in-memory version.
type Store interface {
	CreateRequest(ctx context.Context, author, channelID int64) (*model.HelpRequest, error)
	GetRequestForChannel(ctx context.Context, channelID int64) (*model.HelpRequest, error)
	GetRequestForMessage(ctx context.Context, messageID int) (*model.HelpRequest, error)
	GetActiveRequestForUser(ctx context.Context, author int64) (*model.HelpRequest, error)
	ApplyTransition(ctx context.Context, prev, next *model.HelpRequest) error
	OpenRequests(ctx context.Context) ([]model.HelpRequest, error)
	StaleDrafts(ctx context.Context, cutoff time.Time) ([]model.HelpRequest, error)
	ClassExists(ctx context.Context, name string) (bool, error)
	UpsertClass(ctx context.Context, name string) (*model.Class, error)
	ListClasses(ctx context.Context) ([]model.Class, error)
	EnrollClassMember(ctx context.Context, name string, uid int64) error
}

// Config carries the chat refs and policies the coordinator runs with.
type Config struct {
	// QueueChat receives live postings, ArchiveChat the terminal snapshots.
	QueueChat   int64
	ArchiveChat int64
	// Admins may register classes.
	Admins []int64
	// DraftTTL is how long an idle draft survives; zero disables expiry.
	DraftTTL       time.Duration
	ExpiryInterval time.Duration
}

// HelpQueue coordinates the request lifecycle.
type HelpQueue struct {
	bot *tb.Bot
	dao Store
	gw  gateway.Gateway
	cfg Config

	// reqLocks serializes transitions per record id; operations on
	// different requests proceed independently.
	reqLocks sync.Map
}

// New builds the coordinator and registers its chat handlers.
// bot may be nil in tests; handlers are then not registered.
func New(ctx context.Context, store Store, gw gateway.Gateway, bot *tb.Bot, cfg Config) (*HelpQueue, error) {
	if store == nil || gw == nil {
		return nil, errors.Errorf("store and gateway are required")
	}
	if cfg.ExpiryInterval <= 0 {
		cfg.ExpiryInterval = time.Minute
	}

	s := &HelpQueue{
		bot: bot,
		dao: store,
		gw:  gw,
		cfg: cfg,
	}

	if bot != nil {
		s.registerHandlers()
	}
	return s, nil
}

// Run starts the bot poller until ctx is done.
func (s *HelpQueue) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.bot.Stop()
	}()

	s.bot.Start()
	return nil
}

// OpenRequests exposes the current queue for the status endpoint.
func (s *HelpQueue) OpenRequests(ctx context.Context) ([]model.HelpRequest, error) {
	return s.dao.OpenRequests(ctx)
}

func (s *HelpQueue) registerHandlers() {
	s.bot.Handle("/request", s.handleNewRequest)
	// short alias kept from the original command surface
	s.bot.Handle("/hr", s.handleNewRequest)
	s.bot.Handle("/classes", s.handleListClasses)
	s.bot.Handle("/addclass", s.handleAddClass)
	s.bot.Handle(tb.OnText, s.handleIntakeReply)

	s.bot.Handle(&gateway.BtnClaim, func(c tb.Context) error {
		return s.handleClaimEvent(c, eventClaim)
	})
	s.bot.Handle(&gateway.BtnUnclaim, func(c tb.Context) error {
		return s.handleClaimEvent(c, eventUnclaim)
	})
	s.bot.Handle(&gateway.BtnComplete, func(c tb.Context) error {
		return s.handleClaimEvent(c, eventComplete)
	})
	s.bot.Handle(&gateway.BtnCancel, func(c tb.Context) error {
		return s.handleClaimEvent(c, eventCancel)
	})
	s.bot.Handle(&btnEnrollClass, s.handleEnrollClass)
}

// lockRequest acquires the per-record mutex and returns the unlock func.
func (s *HelpQueue) lockRequest(id primitive.ObjectID) func() {
	v, _ := s.reqLocks.LoadOrStore(id.Hex(), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// releaseRequestLock drops the per-record mutex once the record reaches a
// terminal state; terminal records reject every further event, so waiters
// that raced the deletion still fail safely.
func (s *HelpQueue) releaseRequestLock(id primitive.ObjectID) {
	s.reqLocks.Delete(id.Hex())
}

func (s *HelpQueue) isAdmin(uid int64) bool {
	for _, a := range s.cfg.Admins {
		if a == uid {
			return true
		}
	}
	return false
}

// parseAdminIDs converts configured admin entries to user ids.
// Malformed entries are logged and skipped.
func parseAdminIDs(raw []string) (ids []int64) {
	for _, v := range raw {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			log.Logger.Warn("skip malformed admin id", zap.String("entry", v))
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
