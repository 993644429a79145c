package roundservice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/streamside-labs/sidepool/app/modules/round/roundtypes"
	"github.com/streamside-labs/sidepool/internal/ledger"
)

// HistoryReader serves the public round-history listing. Records are
// write-once; this only ever reads.
type HistoryReader struct {
	store    ledger.Store
	pageSize int
	logger   *slog.Logger
}

// NewHistoryReader returns a reader capped at pageSize records per listing.
func NewHistoryReader(store ledger.Store, pageSize int, logger *slog.Logger) *HistoryReader {
	return &HistoryReader{store: store, pageSize: pageSize, logger: logger}
}

// List returns up to limit history records, most recent first by end time.
// A non-positive or oversized limit falls back to the configured page size.
func (h *HistoryReader) List(ctx context.Context, limit int) ([]roundtypes.RoundHistory, error) {
	if limit <= 0 || limit > h.pageSize {
		limit = h.pageSize
	}

	keys, err := h.store.List(ctx, ledger.HistoryPrefix())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", roundtypes.ErrStorageUnavailable, err)
	}

	records := make([]roundtypes.RoundHistory, 0, len(keys))
	for _, key := range keys {
		data, err := h.store.Get(ctx, key)
		if err != nil {
			h.logger.Warn("skipping unreadable history record",
				slog.String("key", key),
				slog.Any("error", err))
			continue
		}
		var record roundtypes.RoundHistory
		if err := json.Unmarshal(data, &record); err != nil {
			h.logger.Warn("skipping malformed history record",
				slog.String("key", key),
				slog.Any("error", err))
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].EndTime > records[j].EndTime
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
