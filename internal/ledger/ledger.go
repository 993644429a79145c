// Package ledger provides the key/value store behind round snapshots,
// payout manifests, and history records. Values are opaque serialized
// records; callers own the encoding.
package ledger

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("ledger: key not found")

// Store is the durable record sink. List returns keys in lexical order.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Key layout. A single bucket holds every record type, partitioned by
// prefix so history can be listed without touching manifests.
const (
	KeyCurrentRound = "round.current"

	prefixManifest = "manifest."
	prefixHistory  = "history."
	prefixPending  = "pending."
)

// ManifestKey returns the storage key for a round's payout manifest.
func ManifestKey(roundID string) string { return prefixManifest + roundID }

// HistoryKey returns the storage key for a round's history record.
func HistoryKey(roundID string) string { return prefixHistory + roundID }

// VoidHistoryKey returns the storage key for a voided round's history
// record. Kept distinct from HistoryKey so a void written after a partial
// settlement can never clobber a real record.
func VoidHistoryKey(roundID string) string { return prefixHistory + roundID + "_void" }

// PendingKey returns the storage key for a dust-held accumulation record.
func PendingKey(roundID string) string { return prefixPending + roundID }

// HistoryPrefix is the List prefix covering all history records.
func HistoryPrefix() string { return prefixHistory }
