// Package store persists quest drafts per session token.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gabrielmiguelok/questkit/pkg/quest"
)

// Common store errors.
var (
	ErrNotFound      = errors.New("draft not found")
	ErrSubmitted     = errors.New("draft already submitted")
	ErrUnknownDriver = errors.New("unknown store driver")
)

// Draft is the stored answer state of one session.
type Draft struct {
	Token   string
	Version quest.FormType
	// Data is the answer document, nil before the first autosave.
	Data        json.RawMessage
	ProductSlug string
	Submitted   bool
	UpdatedAt   time.Time
}

// HasData reports whether anything was saved besides the version.
func (d Draft) HasData() bool {
	return len(d.Data) > 0 && string(d.Data) != "null"
}

// Store is a draft repository. Writes are last-write-wins.
type Store interface {
	// Get returns ErrNotFound for an unknown token.
	Get(ctx context.Context, token string) (Draft, error)
	// SetVersion records the chosen form type, creating the draft if needed.
	SetVersion(ctx context.Context, token string, v quest.FormType) error
	// SaveData replaces the answer document. Submitted drafts are read-only.
	SaveData(ctx context.Context, token string, data json.RawMessage) error
	// Submit stores the final document and marks the draft submitted.
	Submit(ctx context.Context, token, slug string, data json.RawMessage) error
	Ping(ctx context.Context) error
	Close() error
}

// Open returns the store for driver: "memory" or "sqlite".
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
