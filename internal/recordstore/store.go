// Package recordstore provides TTL-bounded key-value storage for content records.
package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/models"
)

// TTL is how long a record lives in the store after its last write.
const TTL = 90 * 24 * time.Hour

// Store is the record store contract. Keys are "<prefix><id>"; see models.Kind.Key.
type Store interface {
	// Get returns the record or apperr.ErrNotFound when absent or expired.
	Get(ctx context.Context, kind models.Kind, id string) (*models.Record, error)
	// List returns every live record of kind in unspecified order. Entries
	// that fail to decode are logged and skipped.
	List(ctx context.Context, kind models.Kind) ([]*models.Record, error)
	// Put validates and stores rec with a fresh TTL, overwriting unconditionally.
	Put(ctx context.Context, kind models.Kind, rec *models.Record) error
	// Delete removes the record and reports whether a key was actually removed.
	Delete(ctx context.Context, kind models.Kind, id string) (bool, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	Close() error
}

func encode(rec *models.Record) ([]byte, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

func decode(data []byte) (*models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrCorrupt, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrCorrupt, err)
	}
	return &rec, nil
}

// decodeAll decodes raw values, skipping and logging the ones that are corrupt.
func decodeAll(logger *slog.Logger, keys []string, values [][]byte) []*models.Record {
	out := make([]*models.Record, 0, len(values))
	for i, v := range values {
		if v == nil {
			continue // expired between scan and fetch
		}
		rec, err := decode(v)
		if err != nil {
			logger.Warn("recordstore: skipping corrupt record",
				slog.String("key", keys[i]), slog.String("error", err.Error()))
			continue
		}
		out = append(out, rec)
	}
	return out
}
