package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pearlgate/gateway/pkg/models"
)

type fakeProvider struct {
	name      string
	attempts  int
	failUntil int
	err       error
	chunks    []*models.ChatChunk
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Complete(ctx context.Context, model string, req *models.ChatRequest) (<-chan *models.ChatChunk, error) {
	p.attempts++
	if p.attempts <= p.failUntil {
		return nil, p.err
	}
	out := make(chan *models.ChatChunk, len(p.chunks))
	for _, c := range p.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func (p *fakeProvider) Models() []models.Model { return nil }

func (p *fakeProvider) Health(ctx context.Context) bool { return true }

func TestDispatcherRetriesRetryableErrors(t *testing.T) {
	fp := &fakeProvider{
		name:      "acme",
		failUntil: 2,
		err:       NewProviderError("acme", errors.New("busy")).WithStatus(503),
		chunks:    []*models.ChatChunk{{Model: "acme/small"}},
	}
	d := NewDispatcher([]Provider{fp}, RetryPolicy{Base: 0.001, Factor: 2, Cap: 0.01, Retries: 5})
	d.sleep = func(time.Duration) {}

	stream, err := d.Chat(context.Background(), &models.ChatRequest{Model: "acme/small"})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if fp.attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", fp.attempts)
	}
	var got int
	for range stream {
		got++
	}
	if got != 1 {
		t.Fatalf("expected 1 chunk drained, got %d", got)
	}
}

func TestDispatcherDoesNotRetryNonRetryableErrors(t *testing.T) {
	fp := &fakeProvider{
		name:      "acme",
		failUntil: 99,
		err:       NewProviderError("acme", errors.New("bad key")).WithStatus(401),
	}
	d := NewDispatcher([]Provider{fp}, RetryPolicy{Base: 0.001, Factor: 2, Cap: 0.01, Retries: 5})
	d.sleep = func(time.Duration) {}

	_, err := d.Chat(context.Background(), &models.ChatRequest{Model: "acme/small"})
	if err == nil {
		t.Fatal("expected error")
	}
	if fp.attempts != 1 {
		t.Fatalf("expected a single attempt for a non-retryable error, got %d", fp.attempts)
	}
}

func TestDispatcherUnknownProvider(t *testing.T) {
	d := NewDispatcher(nil, DefaultRetryPolicy())
	_, err := d.Chat(context.Background(), &models.ChatRequest{Model: "ghost/small"})
	if err == nil {
		t.Fatal("expected unknown provider error")
	}
}

func TestWrapWithCancelReleasesOnCancellation(t *testing.T) {
	in := make(chan *models.ChatChunk)
	ctx, cancel := context.WithCancel(context.Background())
	out := wrapWithCancel(ctx, in, func() {})

	cancel()

	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected out to close without a value after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("wrapWithCancel did not release within timeout")
	}
}
