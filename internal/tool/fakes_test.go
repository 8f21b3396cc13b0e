package tool

import (
	"context"
	"errors"
	"sync"
	"time"

	"relaybot/internal/directory"
	"relaybot/internal/domain"
)

// fakeWorkspace records every side effect the tools perform.
type fakeWorkspace struct {
	domain.Workspace

	mu          sync.Mutex
	profiles    map[string]*domain.UserProfile
	history     []domain.HistoryMessage
	queries     []domain.HistoryQuery
	posted      []domain.OutgoingMessage
	postErr     error
	scheduled   []domain.OutgoingMessage
	scheduledAt []time.Time
	reactions   []string
	reactFailOn string
	left        []string
	leaveErr    error
	dmChannel   string
	opened      []string
	uploads     []domain.FileUpload
	hits        []domain.SearchHit
	searchErr   error
	searchToken string
}

func (f *fakeWorkspace) UserInfo(_ context.Context, id string) (*domain.UserProfile, error) {
	if p, ok := f.profiles[id]; ok {
		return p, nil
	}
	return nil, errors.New("user_not_found")
}

func (f *fakeWorkspace) History(_ context.Context, q domain.HistoryQuery) ([]domain.HistoryMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.history, nil
}

func (f *fakeWorkspace) PostMessage(_ context.Context, msg domain.OutgoingMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", f.postErr
	}
	f.posted = append(f.posted, msg)
	return "9.9", nil
}

func (f *fakeWorkspace) ScheduleMessage(_ context.Context, msg domain.OutgoingMessage, at time.Time) (string, error) {
	f.scheduled = append(f.scheduled, msg)
	f.scheduledAt = append(f.scheduledAt, at)
	return "Q1", nil
}

func (f *fakeWorkspace) AddReaction(_ context.Context, _, _, name string) error {
	if name == f.reactFailOn {
		return errors.New("invalid_name")
	}
	f.reactions = append(f.reactions, name)
	return nil
}

func (f *fakeWorkspace) LeaveChannel(_ context.Context, ch string) error {
	if f.leaveErr != nil {
		return f.leaveErr
	}
	f.left = append(f.left, ch)
	return nil
}

func (f *fakeWorkspace) OpenDM(_ context.Context, user string) (string, error) {
	f.opened = append(f.opened, user)
	return f.dmChannel, nil
}

func (f *fakeWorkspace) UploadFile(_ context.Context, up domain.FileUpload) error {
	f.uploads = append(f.uploads, up)
	return nil
}

func (f *fakeWorkspace) SearchContext(_ context.Context, _, token string) ([]domain.SearchHit, error) {
	f.searchToken = token
	return f.hits, f.searchErr
}

func newTestDirectory(ws domain.Workspace) *directory.Directory {
	return directory.New(ws, testLogger())
}

type fakeRenderer struct {
	img []byte
	err error
}

func (r *fakeRenderer) Name() string { return "fake" }
func (r *fakeRenderer) Render(context.Context, string) ([]byte, error) {
	return r.img, r.err
}

type fakeThreadReader struct {
	msgs  []domain.Message
	err   error
	limit int
}

func (r *fakeThreadReader) ThreadTranscript(_ context.Context, _, _ string, limit int) ([]domain.Message, error) {
	r.limit = limit
	return r.msgs, r.err
}

// scriptedProvider returns a fixed response and records the request.
type scriptedProvider struct {
	resp *domain.ChatResponse
	err  error
	last domain.ChatRequest
}

func (p *scriptedProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.last = req
	return p.resp, p.err
}
func (p *scriptedProvider) Name() string                  { return "scripted" }
func (p *scriptedProvider) Models() []string              { return []string{"m"} }
func (p *scriptedProvider) Healthy(context.Context) error { return nil }
