package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSStore implements Store on a JetStream key/value bucket.
type NATSStore struct {
	conn   *nats.Conn
	kv     nats.KeyValue
	logger *slog.Logger
}

var _ Store = (*NATSStore)(nil)

// NewNATSStore connects to NATS and binds (creating if needed) the given
// KV bucket.
func NewNATSStore(url, bucket string, logger *slog.Logger) (*NATSStore, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.Timeout(30*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				logger.Error("nats subscription error",
					slog.String("subject", sub.Subject),
					slog.Any("error", err))
				return
			}
			logger.Error("nats connection error", slog.Any("error", err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:  bucket,
			History: 1,
		})
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to bind KV bucket %q: %w", bucket, err)
	}

	return &NATSStore{conn: conn, kv: kv, logger: logger}, nil
}

func (s *NATSStore) Get(_ context.Context, key string) ([]byte, error) {
	entry, err := s.kv.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %q: %w", key, err)
	}
	return entry.Value(), nil
}

func (s *NATSStore) Put(_ context.Context, key string, value []byte) error {
	if _, err := s.kv.Put(key, value); err != nil {
		return fmt.Errorf("kv put %q: %w", key, err)
	}
	return nil
}

func (s *NATSStore) List(_ context.Context, prefix string) ([]string, error) {
	keys, err := s.kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv list: %w", err)
	}
	var matched []string
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}
	sort.Strings(matched)
	return matched, nil
}

func (s *NATSStore) Close() error {
	s.conn.Close()
	return nil
}
