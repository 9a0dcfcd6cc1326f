package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ashureev/flowchat/internal/domain"
	"github.com/ashureev/flowchat/internal/langflow"
	"github.com/ashureev/flowchat/internal/store"
)

type fakeSender struct {
	mu         sync.Mutex
	calls      int
	sessionIDs []string
	send       func(ctx context.Context, msg string) (langflow.Response, error)
}

func (f *fakeSender) Send(ctx context.Context, msg, sessionID string) (langflow.Response, error) {
	f.mu.Lock()
	f.calls++
	f.sessionIDs = append(f.sessionIDs, sessionID)
	f.mu.Unlock()
	return f.send(ctx, msg)
}

func echoSender() *fakeSender {
	return &fakeSender{send: func(_ context.Context, msg string) (langflow.Response, error) {
		body, _ := json.Marshal(map[string]any{
			"outputs": []any{map[string]any{
				"messages": []any{map[string]any{"message": "reply to " + msg}},
			}},
		})
		return langflow.Response(body), nil
	}}
}

func fixedSender(resp string, err error) *fakeSender {
	return &fakeSender{send: func(context.Context, string) (langflow.Response, error) {
		if err != nil {
			return nil, err
		}
		return langflow.Response(resp), nil
	}}
}

func newTestService(t *testing.T, sender Sender) (*Service, *store.SQLiteStore) {
	t.Helper()
	repo, err := store.NewSQLite(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, sender, "Langflow", logger), repo
}

func TestSubmitRecordsUserThenBot(t *testing.T) {
	svc, _ := newTestService(t, echoSender())
	ctx := context.Background()

	bot, err := svc.Submit(ctx, "k", "hello")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if bot.Role != domain.RoleBot || bot.Text != "reply to hello" {
		t.Fatalf("unexpected bot turn: %+v", bot)
	}

	_, turns, err := svc.History(ctx, "k")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != domain.RoleUser || turns[0].Text != "hello" {
		t.Errorf("first turn = %+v", turns[0])
	}
	if turns[1].Role != domain.RoleBot || turns[1].Text != "reply to hello" {
		t.Errorf("second turn = %+v", turns[1])
	}
}

func TestRemoteSessionIDStableAndPerSession(t *testing.T) {
	sender := echoSender()
	svc, _ := newTestService(t, sender)
	ctx := context.Background()

	for _, msg := range []string{"one", "two"} {
		if _, err := svc.Submit(ctx, "alice", msg); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	if _, err := svc.Submit(ctx, "bob", "three"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if len(sender.sessionIDs) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(sender.sessionIDs))
	}
	if !langflow.IsUUID(sender.sessionIDs[0]) {
		t.Fatalf("remote session id is not a UUID: %q", sender.sessionIDs[0])
	}
	if sender.sessionIDs[0] != sender.sessionIDs[1] {
		t.Fatalf("session id changed between turns: %q vs %q", sender.sessionIDs[0], sender.sessionIDs[1])
	}
	if sender.sessionIDs[2] == sender.sessionIDs[0] {
		t.Fatal("different browser sessions share a remote session id")
	}

	session, _, err := svc.History(ctx, "alice")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if session.RemoteID != sender.sessionIDs[0] {
		t.Fatalf("stored remote id %q, sent %q", session.RemoteID, sender.sessionIDs[0])
	}
}

func TestSubmitReplyText(t *testing.T) {
	tests := []struct {
		name   string
		sender *fakeSender
		want   string
	}{
		{
			name:   "extracted",
			sender: fixedSender(`{"outputs":[{"outputs":{"message":{"message":"Hello there"}}}]}`, nil),
			want:   "Hello there",
		},
		{
			name:   "raw text fallback",
			sender: fixedSender(`{"raw_text":"tiny"}`, nil),
			want:   "tiny",
		},
		{
			name:   "placeholder",
			sender: fixedSender(`{"id":"a8b894bc-5791-4eb9-a925-3a8136872944","word":"hello"}`, nil),
			want:   NoAnswerText,
		},
		{
			name:   "configuration error",
			sender: fixedSender("", langflow.ErrMissingAPIKey),
			want:   "Error calling Langflow API: " + langflow.ErrMissingAPIKey.Error(),
		},
		{
			name:   "status error",
			sender: fixedSender("", &langflow.StatusError{StatusCode: http.StatusInternalServerError, Body: "boom"}),
			want:   "Error calling Langflow API: API returned HTTP 500: boom",
		},
		{
			name:   "transport error",
			sender: fixedSender("", fmt.Errorf("run request failed: %w", errors.New("connection refused"))),
			want:   "Error calling Langflow API: run request failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, tt.sender)

			bot, err := svc.Submit(context.Background(), "k", "question")
			if err != nil {
				t.Fatalf("Submit failed: %v", err)
			}
			if bot.Text != tt.want {
				t.Fatalf("bot text = %q, want %q", bot.Text, tt.want)
			}

			_, turns, err := svc.History(context.Background(), "k")
			if err != nil {
				t.Fatalf("History failed: %v", err)
			}
			if len(turns) != 2 || turns[0].Role != domain.RoleUser || turns[1].Text != tt.want {
				t.Fatalf("unexpected history: %+v", turns)
			}
		})
	}
}

func TestSubmitWithoutAPIKeyMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"message":"unexpected"}`)
	}))
	defer srv.Close()

	svc, _ := newTestService(t, langflow.NewClient(srv.URL, ""))

	for i := 0; i < 2; i++ {
		bot, err := svc.Submit(context.Background(), "k", "hi")
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if want := "Error calling Langflow API: " + langflow.ErrMissingAPIKey.Error(); bot.Text != want {
			t.Fatalf("bot text = %q, want %q", bot.Text, want)
		}
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no network calls, got %d", calls.Load())
	}
}

func TestSubmitRejectsBlankInput(t *testing.T) {
	sender := echoSender()
	svc, _ := newTestService(t, sender)

	for _, in := range []string{"", "   ", "\n\t"} {
		if _, err := svc.Submit(context.Background(), "k", in); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("Submit(%q) err = %v, want ErrEmptyMessage", in, err)
		}
	}

	_, turns, err := svc.History(context.Background(), "k")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(turns) != 0 || sender.calls != 0 {
		t.Fatalf("blank input recorded %d turns and %d calls", len(turns), sender.calls)
	}
}

func TestSubmitSurvivesCanceledContext(t *testing.T) {
	sender := &fakeSender{send: func(ctx context.Context, _ string) (langflow.Response, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return langflow.Response(`{"message":"finished anyway"}`), nil
	}}
	svc, _ := newTestService(t, sender)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bot, err := svc.Submit(ctx, "k", "hi")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if bot.Text != "finished anyway" {
		t.Fatalf("bot text = %q", bot.Text)
	}
}

func TestConcurrentSubmitsKeepTurnsPaired(t *testing.T) {
	svc, _ := newTestService(t, echoSender())
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Submit(ctx, "shared", fmt.Sprintf("msg-%d", i)); err != nil {
				t.Errorf("Submit failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	_, turns, err := svc.History(ctx, "shared")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(turns) != 2*n {
		t.Fatalf("expected %d turns, got %d", 2*n, len(turns))
	}
	for i := 0; i < len(turns); i += 2 {
		user, bot := turns[i], turns[i+1]
		if user.Role != domain.RoleUser || bot.Role != domain.RoleBot {
			t.Fatalf("turns %d/%d out of order: %s, %s", i, i+1, user.Role, bot.Role)
		}
		if bot.Text != "reply to "+user.Text {
			t.Fatalf("bot turn %q does not answer %q", bot.Text, user.Text)
		}
	}
}

type failingExchangeRepo struct {
	store.Repository
}

func (failingExchangeRepo) AppendExchange(context.Context, string, domain.Turn, domain.Turn) error {
	return errors.New("disk full")
}

func TestSubmitStorageFailureRecordsNothing(t *testing.T) {
	_, repo := newTestService(t, echoSender())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(failingExchangeRepo{repo}, echoSender(), "Langflow", logger)

	if _, err := svc.Submit(context.Background(), "k", "hello"); err == nil {
		t.Fatal("expected storage error")
	}

	_, turns, err := svc.History(context.Background(), "k")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected no turns after failed submit, got %+v", turns)
	}
}
