package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/cs-open-lab/openlab-bot/internal/helpqueue/model"
)

// memStore implements Store in memory with the same compare-and-update
// semantics as the mongo dao.
type memStore struct {
	mu      sync.Mutex
	recs    map[string]*model.HelpRequest
	classes map[string]*model.Class
}

func newMemStore() *memStore {
	return &memStore{
		recs:    map[string]*model.HelpRequest{},
		classes: map[string]*model.Class{},
	}
}

func cloneRec(rec *model.HelpRequest) *model.HelpRequest {
	cp := *rec
	cp.Mentors = append([]int64{}, rec.Mentors...)
	return &cp
}

func (m *memStore) CreateRequest(ctx context.Context, author, channelID int64) (*model.HelpRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := &model.HelpRequest{
		ID:            primitive.NewObjectID(),
		Tag:           fmt.Sprintf("tag%d", len(m.recs)),
		Author:        author,
		Status:        model.StatusDraft,
		CreationStage: model.StageClass,
		Mentors:       []int64{},
		ChannelID:     channelID,
		CreatedAt:     time.Now().UTC(),
		ModifiedAt:    time.Now().UTC(),
	}
	m.recs[rec.ID.Hex()] = rec
	return cloneRec(rec), nil
}

func (m *memStore) GetRequestForChannel(ctx context.Context, channelID int64) (*model.HelpRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.recs {
		if rec.ChannelID == channelID && rec.Status.Active() {
			return cloneRec(rec), nil
		}
	}
	return nil, errors.Wrapf(model.ErrNotFound, "request for channel %d", channelID)
}

func (m *memStore) GetRequestForMessage(ctx context.Context, messageID int) (*model.HelpRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.recs {
		if rec.MessageID == messageID {
			return cloneRec(rec), nil
		}
	}
	return nil, errors.Wrapf(model.ErrNotFound, "request for message %d", messageID)
}

func (m *memStore) GetActiveRequestForUser(ctx context.Context, author int64) (*model.HelpRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.recs {
		if rec.Author == author && rec.Status.Active() {
			return cloneRec(rec), nil
		}
	}
	return nil, errors.Wrapf(model.ErrNotFound, "active request for user %d", author)
}

func sameMentors(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (m *memStore) ApplyTransition(ctx context.Context, prev, next *model.HelpRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.recs[prev.ID.Hex()]
	if !ok ||
		cur.Status != prev.Status ||
		cur.CreationStage != prev.CreationStage ||
		!sameMentors(cur.Mentors, prev.Mentors) {
		return errors.Wrapf(model.ErrConflict, "request %s changed underneath", prev.ID.Hex())
	}

	m.recs[next.ID.Hex()] = cloneRec(next)
	return nil
}

func (m *memStore) OpenRequests(ctx context.Context) (recs []model.HelpRequest, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.recs {
		if rec.Status == model.StatusUnclaimed || rec.Status == model.StatusClaimed {
			recs = append(recs, *cloneRec(rec))
		}
	}
	return recs, nil
}

func (m *memStore) StaleDrafts(ctx context.Context, cutoff time.Time) (recs []model.HelpRequest, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.recs {
		if rec.Status == model.StatusDraft && rec.ModifiedAt.Before(cutoff) {
			recs = append(recs, *cloneRec(rec))
		}
	}
	return recs, nil
}

func (m *memStore) ClassExists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.classes[name]
	return ok, nil
}

func (m *memStore) UpsertClass(ctx context.Context, name string) (*model.Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cls, ok := m.classes[name]
	if !ok {
		cls = &model.Class{ID: primitive.NewObjectID(), Name: name, Members: []int64{}}
		m.classes[name] = cls
	}
	cp := *cls
	return &cp, nil
}

func (m *memStore) ListClasses(ctx context.Context) (classes []model.Class, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cls := range m.classes {
		classes = append(classes, *cls)
	}
	return classes, nil
}

func (m *memStore) EnrollClassMember(ctx context.Context, name string, uid int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cls, ok := m.classes[name]
	if !ok {
		return errors.Wrapf(model.ErrNotFound, "class %q", name)
	}
	cls.Members = append(cls.Members, uid)
	return nil
}

func (m *memStore) record(t *testing.T, id primitive.ObjectID) *model.HelpRequest {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.recs[id.Hex()]
	require.True(t, ok)
	return cloneRec(rec)
}

type sentMsg struct {
	chat int64
	id   int
	text string
}

// fakeGateway records every outward call.
type fakeGateway struct {
	mu        sync.Mutex
	nextMsgID int

	messages    []sentMsg
	postings    []sentMsg
	edits       []sentMsg
	deletions   []sentMsg
	ephemerals  []sentMsg
	permissions []int64
	roles       []string
}

func (g *fakeGateway) CreatePrivateChannel(ctx context.Context, ownerID int64, participantIDs ...int64) (int64, error) {
	return ownerID, nil
}

func (g *fakeGateway) SendMessage(ctx context.Context, channelRef int64, text string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextMsgID++
	g.messages = append(g.messages, sentMsg{chat: channelRef, id: g.nextMsgID, text: text})
	return g.nextMsgID, nil
}

func (g *fakeGateway) SendPosting(ctx context.Context, channelRef int64, text string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextMsgID++
	g.postings = append(g.postings, sentMsg{chat: channelRef, id: g.nextMsgID, text: text})
	return g.nextMsgID, nil
}

func (g *fakeGateway) EditPosting(ctx context.Context, channelRef int64, messageRef int, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edits = append(g.edits, sentMsg{chat: channelRef, id: messageRef, text: text})
	return nil
}

func (g *fakeGateway) DeleteMessage(ctx context.Context, channelRef int64, messageRef int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletions = append(g.deletions, sentMsg{chat: channelRef, id: messageRef})
	return nil
}

func (g *fakeGateway) DeleteMessageAfter(channelRef int64, messageRef int, delay time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ephemerals = append(g.ephemerals, sentMsg{chat: channelRef, id: messageRef})
}

func (g *fakeGateway) FetchDisplayName(ctx context.Context, userID int64) (string, error) {
	return fmt.Sprintf("user%d", userID), nil
}

func (g *fakeGateway) AssignPermission(ctx context.Context, channelRef int64, userID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.permissions = append(g.permissions, userID)
	return nil
}

func (g *fakeGateway) AddRole(ctx context.Context, userID int64, role string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roles = append(g.roles, role)
	return nil
}

func (g *fakeGateway) chatMessages(chat int64) (msgs []sentMsg) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.messages {
		if m.chat == chat {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

const (
	testQueueChat   = int64(-100)
	testArchiveChat = int64(-200)
	testAuthor      = int64(100)
	testMentorM     = int64(200)
	testMentorN     = int64(300)
)

func newTestQueue(t *testing.T) (*HelpQueue, *memStore, *fakeGateway) {
	t.Helper()

	store := newMemStore()
	_, err := store.UpsertClass(context.Background(), "CMPSC 16")
	require.NoError(t, err)

	gw := &fakeGateway{}
	hq, err := New(context.Background(), store, gw, nil, Config{
		QueueChat:   testQueueChat,
		ArchiveChat: testArchiveChat,
		DraftTTL:    time.Hour,
	})
	require.NoError(t, err)
	return hq, store, gw
}

// runIntake walks a request through the whole form and returns the
// published record.
func runIntake(t *testing.T, hq *HelpQueue, store *memStore) *model.HelpRequest {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, hq.StartIntake(ctx, testAuthor))
	require.NoError(t, hq.AdvanceIntake(ctx, testAuthor, "cs 16"))
	require.NoError(t, hq.AdvanceIntake(ctx, testAuthor, "segfault in lab 3"))
	require.NoError(t, hq.AdvanceIntake(ctx, testAuthor, "my linked list explodes"))
	require.NoError(t, hq.AdvanceIntake(ctx, testAuthor, "yes"))

	rec, err := store.GetActiveRequestForUser(ctx, testAuthor)
	require.NoError(t, err)
	return rec
}

func TestIntakePublishesRequest(t *testing.T) {
	hq, store, gw := newTestQueue(t)

	rec := runIntake(t, hq, store)
	require.Equal(t, model.StatusUnclaimed, rec.Status)
	require.Equal(t, "CMPSC 16", rec.ClassName, "class name is normalized")
	require.Equal(t, "segfault in lab 3", rec.Title)
	require.NotZero(t, rec.MessageID, "published request carries its posting ref")

	require.Len(t, gw.postings, 1)
	require.Equal(t, testQueueChat, gw.postings[0].chat)
	require.Equal(t, rec.MessageID, gw.postings[0].id)
	require.Contains(t, gw.postings[0].text, "CMPSC 16")
}

func TestSecondActiveRequestRejected(t *testing.T) {
	hq, _, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, hq.StartIntake(ctx, testAuthor))
	err := hq.StartIntake(ctx, testAuthor)
	require.ErrorIs(t, err, model.ErrConflict)
}

func TestNormalizedClassRecordedAndStageAdvances(t *testing.T) {
	hq, store, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, hq.StartIntake(ctx, testAuthor))
	require.NoError(t, hq.AdvanceIntake(ctx, testAuthor, "cs 16"))

	rec, err := store.GetActiveRequestForUser(ctx, testAuthor)
	require.NoError(t, err)
	require.Equal(t, "CMPSC 16", rec.ClassName)
	require.Equal(t, model.StageTitle, rec.CreationStage)
}

func TestUnknownClassReprompts(t *testing.T) {
	hq, store, gw := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, hq.StartIntake(ctx, testAuthor))
	require.NoError(t, hq.AdvanceIntake(ctx, testAuthor, "cs 190"))

	rec, err := store.GetActiveRequestForUser(ctx, testAuthor)
	require.NoError(t, err)
	require.Equal(t, model.StageClass, rec.CreationStage, "stage unchanged")
	require.Empty(t, rec.ClassName)

	msgs := gw.chatMessages(testAuthor)
	require.Contains(t, msgs[len(msgs)-1].text, "CMPSC 190")
}

func TestOversizedTitleKeepsStage(t *testing.T) {
	hq, store, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, hq.StartIntake(ctx, testAuthor))
	require.NoError(t, hq.AdvanceIntake(ctx, testAuthor, "cs 16"))
	require.NoError(t, hq.AdvanceIntake(ctx, testAuthor, strings.Repeat("x", model.MaxTitleLength+1)))

	rec, err := store.GetActiveRequestForUser(ctx, testAuthor)
	require.NoError(t, err)
	require.Equal(t, model.StageTitle, rec.CreationStage)
	require.Empty(t, rec.Title)
}

func TestConfirmNoClearsDraft(t *testing.T) {
	hq, store, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, hq.StartIntake(ctx, testAuthor))
	require.NoError(t, hq.AdvanceIntake(ctx, testAuthor, "cs 16"))
	require.NoError(t, hq.AdvanceIntake(ctx, testAuthor, "a title"))
	require.NoError(t, hq.AdvanceIntake(ctx, testAuthor, "a description"))
	require.NoError(t, hq.AdvanceIntake(ctx, testAuthor, "no"))

	rec, err := store.GetActiveRequestForUser(ctx, testAuthor)
	require.NoError(t, err)
	require.Equal(t, model.StatusDraft, rec.Status)
	require.Equal(t, model.StageClass, rec.CreationStage)
	require.Empty(t, rec.ClassName)
	require.Empty(t, rec.Title)
	require.Empty(t, rec.Description)
}

func TestClaimFlowAcrossMentors(t *testing.T) {
	hq, store, gw := newTestQueue(t)
	ctx := context.Background()

	rec := runIntake(t, hq, store)

	require.NoError(t, hq.ApplyClaimEvent(ctx, rec.MessageID, testMentorM, eventClaim))
	got := store.record(t, rec.ID)
	require.Equal(t, model.StatusClaimed, got.Status)
	require.Equal(t, []int64{testMentorM}, got.Mentors)
	require.Equal(t, []int64{testMentorM}, gw.permissions, "mentor joins the private conversation")
	require.NotEmpty(t, gw.edits, "posting refreshed")

	require.NoError(t, hq.ApplyClaimEvent(ctx, rec.MessageID, testMentorN, eventClaim))
	got = store.record(t, rec.ID)
	require.Equal(t, []int64{testMentorM, testMentorN}, got.Mentors)
	require.Equal(t, model.StatusClaimed, got.Status)

	require.NoError(t, hq.ApplyClaimEvent(ctx, rec.MessageID, testMentorM, eventUnclaim))
	got = store.record(t, rec.ID)
	require.Equal(t, []int64{testMentorN}, got.Mentors)
	require.Equal(t, model.StatusClaimed, got.Status)

	require.NoError(t, hq.ApplyClaimEvent(ctx, rec.MessageID, testMentorN, eventUnclaim))
	got = store.record(t, rec.ID)
	require.Empty(t, got.Mentors)
	require.Equal(t, model.StatusUnclaimed, got.Status)
}

func TestAuthorClaimRejectedWithoutMutation(t *testing.T) {
	hq, store, _ := newTestQueue(t)
	ctx := context.Background()

	rec := runIntake(t, hq, store)

	err := hq.ApplyClaimEvent(ctx, rec.MessageID, testAuthor, eventClaim)
	require.ErrorIs(t, err, model.ErrConflict)

	got := store.record(t, rec.ID)
	require.Equal(t, model.StatusUnclaimed, got.Status)
	require.Empty(t, got.Mentors)
}

func TestReclaimRejected(t *testing.T) {
	hq, store, _ := newTestQueue(t)
	ctx := context.Background()

	rec := runIntake(t, hq, store)
	require.NoError(t, hq.ApplyClaimEvent(ctx, rec.MessageID, testMentorM, eventClaim))

	err := hq.ApplyClaimEvent(ctx, rec.MessageID, testMentorM, eventClaim)
	require.ErrorIs(t, err, model.ErrConflict)

	got := store.record(t, rec.ID)
	require.Equal(t, []int64{testMentorM}, got.Mentors, "no duplicate mentor entry")
}

func TestCompleteArchivesExactlyOnce(t *testing.T) {
	hq, store, gw := newTestQueue(t)
	ctx := context.Background()

	rec := runIntake(t, hq, store)
	require.NoError(t, hq.ApplyClaimEvent(ctx, rec.MessageID, testMentorM, eventClaim))

	require.NoError(t, hq.ApplyClaimEvent(ctx, rec.MessageID, testMentorM, eventComplete))
	got := store.record(t, rec.ID)
	require.Equal(t, model.StatusCompleted, got.Status)
	require.Len(t, gw.chatMessages(testArchiveChat), 1, "exactly one archive entry")
	require.Len(t, gw.deletions, 1, "live posting removed")

	// replaying the terminal event is rejected and nothing is re-archived
	err := hq.ApplyClaimEvent(ctx, rec.MessageID, testMentorM, eventComplete)
	require.ErrorIs(t, err, model.ErrConflict)
	err = hq.ApplyClaimEvent(ctx, rec.MessageID, testMentorM, eventCancel)
	require.ErrorIs(t, err, model.ErrConflict)
	require.Len(t, gw.chatMessages(testArchiveChat), 1)
}

func TestCancelRecordsActor(t *testing.T) {
	hq, store, gw := newTestQueue(t)
	ctx := context.Background()

	rec := runIntake(t, hq, store)
	require.NoError(t, hq.ApplyClaimEvent(ctx, rec.MessageID, testMentorM, eventCancel))

	got := store.record(t, rec.ID)
	require.Equal(t, model.StatusCanceled, got.Status)
	require.Equal(t, testMentorM, got.Canceler)
	require.Len(t, gw.chatMessages(testArchiveChat), 1)

	archived := gw.chatMessages(testArchiveChat)[0].text
	require.Contains(t, archived, "Canceled by user200")
}

func TestClaimEventOnMissingRecord(t *testing.T) {
	hq, _, _ := newTestQueue(t)

	err := hq.ApplyClaimEvent(context.Background(), 424242, testMentorM, eventClaim)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestIntakeReplyOnMissingRecordHints(t *testing.T) {
	hq, _, gw := newTestQueue(t)

	require.NoError(t, hq.AdvanceIntake(context.Background(), testAuthor, "hello?"))
	msgs := gw.chatMessages(testAuthor)
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].text, "/request")
}

func TestDraftExpiry(t *testing.T) {
	hq, store, gw := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, hq.StartIntake(ctx, testAuthor))
	rec, err := store.GetActiveRequestForUser(ctx, testAuthor)
	require.NoError(t, err)

	// age the draft past the TTL
	store.mu.Lock()
	store.recs[rec.ID.Hex()].ModifiedAt = time.Now().UTC().Add(-2 * time.Hour)
	store.mu.Unlock()

	require.NoError(t, hq.expireStaleDrafts(ctx))

	got := store.record(t, rec.ID)
	require.Equal(t, model.StatusCanceled, got.Status)
	require.Zero(t, got.Canceler)
	require.Empty(t, gw.deletions, "a draft has no live posting to delete")

	archived := gw.chatMessages(testArchiveChat)
	require.Len(t, archived, 1)
	require.Contains(t, archived[0].text, "Canceled due to inactivity")

	// the author may start a new request afterwards
	require.NoError(t, hq.StartIntake(ctx, testAuthor))
}

func TestActivelyAnsweredDraftSurvivesExpirySweep(t *testing.T) {
	hq, store, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, hq.StartIntake(ctx, testAuthor))
	rec, err := store.GetActiveRequestForUser(ctx, testAuthor)
	require.NoError(t, err)

	// draft opened long ago, but the author answers just before the sweep
	store.mu.Lock()
	store.recs[rec.ID.Hex()].ModifiedAt = time.Now().UTC().Add(-2 * time.Hour)
	store.mu.Unlock()
	require.NoError(t, hq.AdvanceIntake(ctx, testAuthor, "cs 16"))

	require.NoError(t, hq.expireStaleDrafts(ctx))

	got := store.record(t, rec.ID)
	require.Equal(t, model.StatusDraft, got.Status)
	require.Equal(t, model.StageTitle, got.CreationStage)
}

func TestDistinctMentorsClaimConcurrently(t *testing.T) {
	hq, store, _ := newTestQueue(t)
	ctx := context.Background()

	rec := runIntake(t, hq, store)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, mentor := range []int64{testMentorM, testMentorN} {
		wg.Add(1)
		go func(i int, mentor int64) {
			defer wg.Done()
			errs[i] = hq.ApplyClaimEvent(ctx, rec.MessageID, mentor, eventClaim)
		}(i, mentor)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	got := store.record(t, rec.ID)
	require.Equal(t, model.StatusClaimed, got.Status)
	require.ElementsMatch(t, []int64{testMentorM, testMentorN}, got.Mentors)
}

func TestTerminalTransitionReleasesLock(t *testing.T) {
	hq, store, _ := newTestQueue(t)
	ctx := context.Background()

	rec := runIntake(t, hq, store)
	require.NoError(t, hq.ApplyClaimEvent(ctx, rec.MessageID, testMentorM, eventClaim))
	_, held := hq.reqLocks.Load(rec.ID.Hex())
	require.True(t, held)

	require.NoError(t, hq.ApplyClaimEvent(ctx, rec.MessageID, testMentorM, eventComplete))
	_, held = hq.reqLocks.Load(rec.ID.Hex())
	require.False(t, held, "terminal records keep no lock entry")
}

func TestRejectionTextReadsAsPlainSentence(t *testing.T) {
	err := errors.Wrap(model.ErrConflict, "you can't claim your own request")
	require.Equal(t, "[Error] you can't claim your own request", rejectionText(err))

	require.Equal(t, "help request not found",
		rejectionText(errors.Wrapf(model.ErrNotFound, "request for message %d", 42)))
}

func TestParseAdminIDs(t *testing.T) {
	require.Equal(t, []int64{100, 200}, parseAdminIDs([]string{"100", " 200 ", "staff", ""}))
	require.Empty(t, parseAdminIDs(nil))
}

func TestConcurrentClaimsNeverDuplicate(t *testing.T) {
	hq, store, _ := newTestQueue(t)
	ctx := context.Background()

	rec := runIntake(t, hq, store)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = hq.ApplyClaimEvent(ctx, rec.MessageID, testMentorM, eventClaim)
		}(i)
	}
	wg.Wait()

	var applied int
	for _, err := range errs {
		if err == nil {
			applied++
		} else {
			require.ErrorIs(t, err, model.ErrConflict)
		}
	}
	require.Equal(t, 1, applied, "exactly one claim wins")

	got := store.record(t, rec.ID)
	require.Equal(t, []int64{testMentorM}, got.Mentors)
}
