package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/openalpha/simulacrum/internal/apperr"
	"github.com/openalpha/simulacrum/internal/idgen"
	"github.com/openalpha/simulacrum/pkg/money"
)

// InMemoryPort is a deterministic, in-process test double for Port,
// generalized from the teacher's MockSubmitter: it records every call it
// receives instead of talking to a network, and can be told to fail the
// next N calls to exercise the outbox's retry path.
type InMemoryPort struct {
	mu sync.Mutex

	Messages  []RecordedMessage
	Transfers []RecordedTransfer

	failNext int
}

// RecordedMessage is one accepted submitMessage call.
type RecordedMessage struct {
	TopicID string
	Payload []byte
	At      time.Time
}

// RecordedTransfer is one accepted transfer call.
type RecordedTransfer struct {
	From, To string
	Amount   money.Tinybar
	At       time.Time
}

// NewInMemoryPort returns an always-succeeding port.
func NewInMemoryPort() *InMemoryPort {
	return &InMemoryPort{}
}

// FailNext makes the next n calls (of either kind) return NETWORK_ERROR.
func (p *InMemoryPort) FailNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = n
}

func (p *InMemoryPort) consumeFailure() bool {
	if p.failNext > 0 {
		p.failNext--
		return true
	}
	return false
}

func (p *InMemoryPort) SubmitMessage(_ context.Context, topicID string, payload []byte, _ SubmitOpts) (Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumeFailure() {
		return Receipt{}, apperr.New(apperr.NetworkError, "simulated ledger outage")
	}
	p.Messages = append(p.Messages, RecordedMessage{TopicID: topicID, Payload: payload, At: time.Now()})
	return Receipt{ID: idgen.New("rcpt"), ObservedAt: time.Now()}, nil
}

func (p *InMemoryPort) Transfer(_ context.Context, from, to string, amount money.Tinybar, _ TransferOpts) (Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumeFailure() {
		return Receipt{}, apperr.New(apperr.NetworkError, "simulated ledger outage")
	}
	p.Transfers = append(p.Transfers, RecordedTransfer{From: from, To: to, Amount: amount, At: time.Now()})
	return Receipt{ID: idgen.New("rcpt"), ObservedAt: time.Now()}, nil
}
