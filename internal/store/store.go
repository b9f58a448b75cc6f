// Package store is the outbound side of the pipeline: the remote
// document store the forwarder writes detections to, plus the optional
// offline queue that retries failed writes.
package store

import (
	"context"
	"time"
)

// ForwardRecord is one detected payment, written to the remote store
// under its dedup key. Re-sending the same key overwrites the same
// remote document, so repeated delivery of one logical event never
// duplicates stored state.
type ForwardRecord struct {
	DedupKey  string
	Bank      string
	Amount    int64
	RawText   string
	OwnerID   string
	Timestamp time.Time
}

type Store interface {
	// Upsert writes rec keyed by rec.DedupKey with overwrite semantics.
	Upsert(ctx context.Context, rec ForwardRecord) error
}
