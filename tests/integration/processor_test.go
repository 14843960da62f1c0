//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-faster/errors"

	"github.com/john25coder/pizzaria-app/internal/domain/payment"
)

// fakeProcessor keeps intents in memory. Webhook payloads are plain
// payment.Event JSON and the signature must equal webhookSecret.
type fakeProcessor struct {
	mu      sync.Mutex
	seq     int
	intents map[string]*payment.Intent
	refunds int
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{intents: make(map[string]*payment.Intent)}
}

// settle sets the processor-side status of an intent.
func (p *fakeProcessor) settle(id string, status payment.IntentStatus, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if in, ok := p.intents[id]; ok {
		in.Status = status
		in.FailureReason = reason
	}
}

func (p *fakeProcessor) CreateIntent(_ context.Context, params payment.IntentParams) (*payment.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	id := fmt.Sprintf("pi_it_%d", p.seq)
	in := &payment.Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       payment.IntentRequiresPaymentMethod,
		Amount:       params.Amount,
		Currency:     params.Currency,
	}
	p.intents[id] = in
	out := *in
	return &out, nil
}

func (p *fakeProcessor) RetrieveIntent(_ context.Context, id string) (*payment.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	in, ok := p.intents[id]
	if !ok {
		return nil, errors.Errorf("no such intent: %s", id)
	}
	out := *in
	return &out, nil
}

func (p *fakeProcessor) CancelIntent(_ context.Context, id string) (*payment.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	in, ok := p.intents[id]
	if !ok {
		return nil, errors.Errorf("no such intent: %s", id)
	}
	in.Status = payment.IntentCanceled
	out := *in
	return &out, nil
}

func (p *fakeProcessor) CreateRefund(_ context.Context, params payment.RefundParams) (*payment.Refund, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	in, ok := p.intents[params.IntentID]
	if !ok {
		return nil, errors.Errorf("no such intent: %s", params.IntentID)
	}
	p.refunds++
	return &payment.Refund{ID: fmt.Sprintf("re_it_%d", p.refunds), Status: "pending", Amount: in.Amount}, nil
}

func (p *fakeProcessor) ParseEvent(payload []byte, signature string) (*payment.Event, error) {
	if signature != webhookSecret {
		return nil, payment.ErrInvalidSignature
	}
	var ev payment.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, errors.Wrap(err, "decode event")
	}
	return &ev, nil
}
