package intake

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"relaybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeWorkspace implements the Workspace methods the intake path touches.
type fakeWorkspace struct {
	domain.Workspace

	mu        sync.Mutex
	profiles  map[string]*domain.UserProfile
	roots     map[string]domain.HistoryMessage // thread ts -> root
	rootErr   error
	members   []string
	posted    []domain.OutgoingMessage
	userCalls int
}

func (f *fakeWorkspace) UserInfo(_ context.Context, id string) (*domain.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls++
	if p, ok := f.profiles[id]; ok {
		return p, nil
	}
	return nil, errors.New("user_not_found")
}

func (f *fakeWorkspace) History(_ context.Context, q domain.HistoryQuery) ([]domain.HistoryMessage, error) {
	if f.rootErr != nil {
		return nil, f.rootErr
	}
	if root, ok := f.roots[q.ThreadTS]; ok {
		return []domain.HistoryMessage{root}, nil
	}
	return nil, nil
}

func (f *fakeWorkspace) ChannelMembers(context.Context, string, string, int) ([]string, string, error) {
	return f.members, "", nil
}

func (f *fakeWorkspace) PostMessage(_ context.Context, msg domain.OutgoingMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, msg)
	return "9.9", nil
}

type recordingResponder struct {
	mu    sync.Mutex
	turns []*domain.Turn
	err   error
}

func (r *recordingResponder) Respond(_ context.Context, turn *domain.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, turn)
	return r.err
}

func (r *recordingResponder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.turns)
}

// blockingResponder holds every run until release is closed.
type blockingResponder struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *blockingResponder) Respond(context.Context, *domain.Turn) error {
	r.once.Do(func() { close(r.started) })
	<-r.release
	return nil
}
