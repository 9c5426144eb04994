package llm

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	lastModel string
	err       error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	s.lastModel = req.Model
	if s.err != nil {
		return nil, s.err
	}
	return &CompletionResponse{
		Content: "ok",
		Usage:   TokenUsage{InputTokens: 5, OutputTokens: 2, TotalTokens: 7},
	}, nil
}

type record struct {
	model, status      string
	prompt, completion int
}

type recorder struct {
	mu      sync.Mutex
	records []record
}

func (r *recorder) RecordLLMRequest(ctx context.Context, model, status string, prompt, completion int, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record{model, status, prompt, completion})
}

func TestInstrumented_RecordsSuccessAndFailure(t *testing.T) {
	stub := &stubProvider{}
	rec := &recorder{}
	p := Instrument(stub, rec, nil, "default-model")

	resp, err := p.Complete(context.Background(), Prompt("", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, "default-model", stub.lastModel)

	stub.err = fmt.Errorf("boom")
	req := Prompt("", "hi")
	req.Model = "explicit"
	_, err = p.Complete(context.Background(), req)
	require.Error(t, err)

	assert.Equal(t, []record{
		{"default-model", "success", 5, 2},
		{"explicit", "error", 0, 0},
	}, rec.records)
	assert.Equal(t, "stub", p.Name())
}

func TestPrompt(t *testing.T) {
	assert.Len(t, Prompt("", "u").Messages, 1)
	req := Prompt("s", "u")
	require.Len(t, req.Messages, 2)
	assert.Equal(t, MessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, MessageRoleUser, req.Messages[1].Role)
}
