package jobs

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/modelgen/internal/events"
	"github.com/sells-group/modelgen/internal/model"
	"github.com/sells-group/modelgen/internal/store"
	"github.com/sells-group/modelgen/pkg/anthropic"
)

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// --- Notifier recorder ---

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recordingNotifier) Publish(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) byType(t model.EventType) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// --- Racey store ---

// raceyStore wraps a real store and steals the first FailJob swap by
// advancing the job underneath it, the way a concurrent worker would.
type raceyStore struct {
	store.Store
	mu        sync.Mutex
	failCalls int
}

func (r *raceyStore) FailJob(ctx context.Context, jobID string, from model.JobStatus, rec store.FailureRecord) error {
	r.mu.Lock()
	r.failCalls++
	first := r.failCalls == 1
	r.mu.Unlock()

	if first && from == model.JobStatusPending {
		if err := r.Store.TransitionJob(ctx, jobID, model.JobStatusPending, model.JobStatusClassifying); err != nil {
			return err
		}
	}
	return r.Store.FailJob(ctx, jobID, from, rec)
}

// textResponse wraps text in a single-block oracle response with token
// usage attached.
func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		ID:         "msg_test",
		Model:      "claude-sonnet-4-5-20250929",
		Content:    []anthropic.ContentBlock{{Type: "text", Text: text}},
		StopReason: "end_turn",
		Usage: anthropic.TokenUsage{
			InputTokens:  420,
			OutputTokens: 96,
		},
	}
}

// --- Ensure interface compliance ---
var (
	_ anthropic.Client = (*mockAnthropicClient)(nil)
	_ events.Notifier  = (*recordingNotifier)(nil)
	_ store.Store      = (*raceyStore)(nil)
)
