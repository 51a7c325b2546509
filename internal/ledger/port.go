// Package ledger defines the engine's single outbound dependency: the
// pluggable ledger-effect port (component B, spec section 6).
//
// The port models a Hedera-like distributed ledger as two side-effecting
// operations, submitMessage and transfer. Production callers supply a real
// adapter; tests use InMemoryPort, generalized from the teacher's
// offchain/matcher.MockSubmitter/TxSubmitter pair into the two operations
// this spec actually names instead of order/trade-shaped methods.
package ledger

import (
	"context"
	"time"

	"github.com/openalpha/simulacrum/pkg/money"
)

// Receipt is the opaque acknowledgement returned by a successful port call.
type Receipt struct {
	ID         string
	ObservedAt time.Time
}

// SubmitOpts carries per-call data the port may honor. Outbox sets Memo
// to the effect's ID, the idempotency key for retried deliveries.
type SubmitOpts struct {
	Memo string
}

// TransferOpts mirrors SubmitOpts for value transfers.
type TransferOpts struct {
	Memo string
}

// Port is the abstract ledger-effect sink. Implementations must be
// idempotent on retry, keyed by the caller-supplied event id embedded in
// payload/opts, since the outbox delivers at-least-once (spec section 5).
type Port interface {
	SubmitMessage(ctx context.Context, topicID string, payload []byte, opts SubmitOpts) (Receipt, error)
	Transfer(ctx context.Context, from, to string, amount money.Tinybar, opts TransferOpts) (Receipt, error)
}
