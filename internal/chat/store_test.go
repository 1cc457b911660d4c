package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Session{}, &Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type memCache struct {
	mu       sync.Mutex
	data     map[string][]byte
	versions map[string]int64
	// beforeSet runs once, outside the lock, ahead of the next SetHistory
	beforeSet func()
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}, versions: map[string]int64{}}
}

func (c *memCache) GetHistory(_ context.Context, sessionID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[sessionID]
	if !ok {
		return nil, errors.New("miss")
	}
	return b, nil
}

func (c *memCache) HistoryVersion(_ context.Context, sessionID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[sessionID], nil
}

func (c *memCache) SetHistory(_ context.Context, sessionID string, version int64, data []byte) (bool, error) {
	c.mu.Lock()
	hook := c.beforeSet
	c.beforeSet = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[sessionID] != version {
		return false, nil
	}
	c.data[sessionID] = data
	return true, nil
}

func (c *memCache) InvalidateHistory(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[sessionID]++
	delete(c.data, sessionID)
	return nil
}

type recordingPublisher struct {
	events []string
	err    error
}

func (p *recordingPublisher) PublishMessageSaved(_ context.Context, sessionID, messageID string, _ time.Time) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, sessionID+"/"+messageID)
	return nil
}

func TestGetOrCreateSession_Idempotent(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(NewRepo(db))
	ctx := context.Background()

	first := store.GetOrCreateSession(ctx, "sess-1")
	if first == nil {
		t.Fatalf("expected session")
	}
	second := store.GetOrCreateSession(ctx, "sess-1")
	if second == nil {
		t.Fatalf("expected session on second call")
	}
	if first.ID != second.ID {
		t.Fatalf("ids differ: %q vs %q", first.ID, second.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("created_at changed: %s -> %s", first.CreatedAt, second.CreatedAt)
	}
	if second.UpdatedAt.Before(first.UpdatedAt) {
		t.Fatalf("updated_at went backwards: %s -> %s", first.UpdatedAt, second.UpdatedAt)
	}

	var count int64
	if err := db.Model(&Session{}).Where("id = ?", "sess-1").Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 session row, got %d", count)
	}
}

func TestGetOrCreateSession_ConcurrentFirstAccess(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(NewRepo(db))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.GetOrCreateSession(context.Background(), "sess-race")
		}()
	}
	wg.Wait()

	var count int64
	db.Model(&Session{}).Where("id = ?", "sess-race").Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 session row, got %d", count)
	}
}

func TestGetMessages_PreservesInsertOrder(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(NewRepo(db))
	ctx := context.Background()

	store.GetOrCreateSession(ctx, "sess-order")
	var want []string
	for i := 0; i < 12; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		content := fmt.Sprintf("m%02d", i)
		if store.SaveMessage(ctx, "sess-order", role, content, nil) == nil {
			t.Fatalf("save %d failed", i)
		}
		want = append(want, content)
	}

	got := store.GetMessages(ctx, "sess-order")
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Content != want[i] {
			t.Fatalf("position %d: got %q, want %q", i, got[i].Content, want[i])
		}
		if i > 0 && got[i].CreatedAt.Before(got[i-1].CreatedAt) {
			t.Fatalf("created_at decreases at %d", i)
		}
	}
}

func TestSaveMessage_ReturnsStoredRow(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(NewRepo(db))
	ctx := context.Background()
	store.GetOrCreateSession(ctx, "sess-img")

	url := "https://cdn.example.com/recipe.png"
	m := store.SaveMessage(ctx, "sess-img", RoleAssistant, "Retsept", &url)
	if m == nil {
		t.Fatalf("expected stored message")
	}
	if m.ID == "" || m.CreatedAt.IsZero() {
		t.Fatalf("id/created_at not set: %+v", m)
	}

	msgs, err := NewRepo(db).ListMessages(ctx, "sess-img")
	if err != nil || len(msgs) != 1 {
		t.Fatalf("list messages: %d %v", len(msgs), err)
	}
	stored := msgs[0]
	if stored.ID != m.ID {
		t.Fatalf("unexpected row %s, want %s", stored.ID, m.ID)
	}
	if stored.ImageURL == nil || *stored.ImageURL != url {
		t.Fatalf("image url not persisted: %v", stored.ImageURL)
	}
}

func TestSaveMessage_RejectsUnknownRole(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(NewRepo(db))

	if m := store.SaveMessage(context.Background(), "sess-x", Role("system"), "hi", nil); m != nil {
		t.Fatalf("expected nil for invalid role, got %+v", m)
	}
}

func TestSaveMessage_TouchesSessionInline(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	store := NewStore(repo)
	ctx := context.Background()

	sess := store.GetOrCreateSession(ctx, "sess-touch")
	m := store.SaveMessage(ctx, "sess-touch", RoleUser, "Tere", nil)
	if m == nil {
		t.Fatalf("save failed")
	}
	after, err := repo.GetSession(ctx, "sess-touch")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if after.UpdatedAt.Before(sess.UpdatedAt) {
		t.Fatalf("updated_at went backwards")
	}
	if after.UpdatedAt.Before(m.CreatedAt) {
		t.Fatalf("updated_at %s not advanced to message time %s", after.UpdatedAt, m.CreatedAt)
	}
}

func TestTouchSession_NeverMovesBackwards(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	sess, err := repo.UpsertSession(ctx, "sess-mono")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.TouchSession(ctx, "sess-mono", sess.UpdatedAt.Add(-time.Hour)); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, _ := repo.GetSession(ctx, "sess-mono")
	if !got.UpdatedAt.Equal(sess.UpdatedAt) {
		t.Fatalf("updated_at changed: %s -> %s", sess.UpdatedAt, got.UpdatedAt)
	}
}

func TestStore_HistoryCacheReadThroughAndInvalidate(t *testing.T) {
	db := openTestDB(t)
	cache := newMemCache()
	pub := &recordingPublisher{}
	store := NewStore(NewRepo(db), WithHistoryCache(cache), WithEventPublisher(pub))
	ctx := context.Background()

	store.GetOrCreateSession(ctx, "sess-cache")
	store.SaveMessage(ctx, "sess-cache", RoleUser, "üks", nil)

	if got := store.GetMessages(ctx, "sess-cache"); len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if _, err := cache.GetHistory(ctx, "sess-cache"); err != nil {
		t.Fatalf("expected history to be cached")
	}

	store.SaveMessage(ctx, "sess-cache", RoleAssistant, "kaks", nil)
	if _, err := cache.GetHistory(ctx, "sess-cache"); err == nil {
		t.Fatalf("expected cached history to be invalidated on save")
	}
	got := store.GetMessages(ctx, "sess-cache")
	if len(got) != 2 || got[1].Content != "kaks" {
		t.Fatalf("unexpected history after save: %+v", got)
	}
	if len(pub.events) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(pub.events))
	}
}

func TestStore_HistoryCacheRefusesFillAfterConcurrentSave(t *testing.T) {
	db := openTestDB(t)
	cache := newMemCache()
	store := NewStore(NewRepo(db), WithHistoryCache(cache))
	ctx := context.Background()

	store.GetOrCreateSession(ctx, "sess-race")
	store.SaveMessage(ctx, "sess-race", RoleUser, "m1", nil)

	// the save lands after the rows were read but before the cache fill
	cache.beforeSet = func() {
		if store.SaveMessage(ctx, "sess-race", RoleAssistant, "m2", nil) == nil {
			t.Errorf("save of m2 failed")
		}
	}
	if got := store.GetMessages(ctx, "sess-race"); len(got) != 1 {
		t.Fatalf("expected the snapshot taken before m2, got %d messages", len(got))
	}
	if _, err := cache.GetHistory(ctx, "sess-race"); err == nil {
		t.Fatalf("stale snapshot must not be cached")
	}

	for i := 0; i < 2; i++ {
		got := store.GetMessages(ctx, "sess-race")
		if len(got) != 2 || got[0].Content != "m1" || got[1].Content != "m2" {
			t.Fatalf("read %d: expected m1,m2, got %+v", i, got)
		}
	}
	if _, err := cache.GetHistory(ctx, "sess-race"); err != nil {
		t.Fatalf("fresh history should be cached")
	}
}

func TestStore_PublisherFailureFallsBackToInlineTouch(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(NewRepo(db), WithEventPublisher(&recordingPublisher{err: errors.New("broker down")}))
	ctx := context.Background()

	store.GetOrCreateSession(ctx, "sess-pubfail")
	if m := store.SaveMessage(ctx, "sess-pubfail", RoleUser, "Tere", nil); m == nil {
		t.Fatalf("save must succeed even when publishing fails")
	}
}

func TestStore_DegradedMode(t *testing.T) {
	ctx := context.Background()
	for name, store := range map[string]*Store{
		"nil store": nil,
		"nil repo":  NewStore(nil),
	} {
		t.Run(name, func(t *testing.T) {
			if store.Enabled() {
				t.Fatalf("expected disabled store")
			}
			if s := store.GetOrCreateSession(ctx, "abc"); s != nil {
				t.Fatalf("expected nil session, got %+v", s)
			}
			msgs := store.GetMessages(ctx, "abc")
			if msgs == nil || len(msgs) != 0 {
				t.Fatalf("expected empty non-nil slice, got %#v", msgs)
			}
			if m := store.SaveMessage(ctx, "abc", RoleUser, "hi", nil); m != nil {
				t.Fatalf("expected nil message, got %+v", m)
			}
		})
	}
}

func TestStore_UnreachableDatabaseDegrades(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(NewRepo(db))
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	_ = sqlDB.Close()

	ctx := context.Background()
	if s := store.GetOrCreateSession(ctx, "gone"); s != nil {
		t.Fatalf("expected nil session")
	}
	if msgs := store.GetMessages(ctx, "gone"); len(msgs) != 0 {
		t.Fatalf("expected empty history")
	}
	if m := store.SaveMessage(ctx, "gone", RoleUser, "hi", nil); m != nil {
		t.Fatalf("expected nil message")
	}
}
