// Package cache keeps the last good payload of every subscription so a
// failed or unchanged fetch can still contribute to a merge.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/John-Robertt/mihomocli/internal/model"
)

var ErrNotFound = errors.New("cache entry not found")

// Entry is the cached payload of one subscription plus the validators the
// server sent with it.
type Entry struct {
	ID           string
	Body         []byte
	ETag         string
	LastModified string
	UpdatedAt    time.Time

	// Size is filled by List, which does not load bodies.
	Size int64
}

// Store persists one Entry per subscription id. Implementations must allow
// concurrent calls for distinct ids.
type Store interface {
	// Load returns ErrNotFound when nothing is cached for id.
	Load(ctx context.Context, id string) (*Entry, error)
	Save(ctx context.Context, e Entry) error
	// List returns entries without bodies, ordered by id.
	List(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

type CacheError struct {
	AppError model.AppError
	Cause    error
}

func (e *CacheError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *CacheError) Unwrap() error { return e.Cause }

func newCacheError(id, msg string, cause error) error {
	return &CacheError{
		AppError: model.AppError{
			Code:    "CACHE_ERROR",
			Message: msg,
			Stage:   "cache",
			URL:     id,
		},
		Cause: cause,
	}
}

// Key maps a subscription id (usually a URL) to a file-name safe key.
func Key(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:16])
}
