package calls

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("calls: record not found")

// Repository stores call detail records.
type Repository interface {
	// Insert is idempotent on CallSID.
	Insert(ctx context.Context, r Record) error
	Get(ctx context.Context, callSID string) (Record, error)
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	// Between returns records whose call ended in [from, to).
	Between(ctx context.Context, from, to time.Time) ([]Record, error)
}
