// Package idgen is the engine's unique-identifier source (component A).
//
// Every entity id (order, fill, position, liquidation event, ...) is a
// short human-grokkable prefix plus a UUIDv4, generated with google/uuid -
// already a direct dependency of the teacher's websocket server - rather
// than the teacher's per-module monotonic counters persisted in a KV
// store. A counter only guarantees uniqueness within one store instance;
// a UUID guarantees it without needing to read-modify-write shared state,
// which matters once ids are generated from inside a per-market critical
// section that must stay short (spec section 5).
package idgen

import "github.com/google/uuid"

// New returns a new id of the form "<prefix>_<uuid>", e.g. "ord_3fa...".
func New(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
