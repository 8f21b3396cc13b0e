package directory

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"relaybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubWorkspace struct {
	domain.Workspace
	profiles map[string]*domain.UserProfile
	calls    int
}

func (s *stubWorkspace) UserInfo(_ context.Context, id string) (*domain.UserProfile, error) {
	s.calls++
	p, ok := s.profiles[id]
	if !ok {
		return nil, errors.New("user_not_found")
	}
	return p, nil
}

func TestName_CachesResolvedName(t *testing.T) {
	ws := &stubWorkspace{profiles: map[string]*domain.UserProfile{
		"U1": {ID: "U1", Username: "ada", RealName: "Ada L"},
	}}
	d := New(ws, testLogger())

	if got := d.Name(context.Background(), "U1"); got != "Ada L" {
		t.Fatalf("expected real name fallback, got %q", got)
	}
	d.Name(context.Background(), "U1")
	if ws.calls != 1 {
		t.Fatalf("expected one lookup, got %d", ws.calls)
	}
}

func TestName_FallsBackToID(t *testing.T) {
	d := New(&stubWorkspace{}, testLogger())
	if got := d.Name(context.Background(), "U404"); got != "U404" {
		t.Fatalf("expected raw id, got %q", got)
	}
}

func TestPrime(t *testing.T) {
	ws := &stubWorkspace{}
	d := New(ws, testLogger())
	d.Prime("UBOT", "relay")
	if got := d.Name(context.Background(), "UBOT"); got != "relay" {
		t.Fatalf("expected primed name, got %q", got)
	}
	if ws.calls != 0 {
		t.Fatal("primed name should not hit the workspace")
	}
}

func TestNormalizeUserID(t *testing.T) {
	cases := map[string]string{
		"U123":        "U123",
		"<@U123>":     "U123",
		"<@U123|ada>": "U123",
		"  @U123 ":    "U123",
		"":            "",
	}
	for in, want := range cases {
		if got := NormalizeUserID(in); got != want {
			t.Errorf("NormalizeUserID(%q) = %q, want %q", in, got, want)
		}
	}
}
