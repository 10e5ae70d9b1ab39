// Package storage persists conversation entries, persona transients and
// the affective state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	st "github.com/keshon/sable/internal/storagetypes"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDegraded is returned by Guard while the backend is unavailable.
	ErrDegraded = errors.New("storage: degraded")
)

// Store is the persistence contract. Each call is atomic on its own.
type Store interface {
	// SaveEntry inserts an entry or updates the text of an existing one.
	// Reactions already recorded are kept.
	SaveEntry(ctx context.Context, e st.Entry) error

	// RecentEntries returns up to limit entries of a channel, newest first.
	RecentEntries(ctx context.Context, channelID string, limit int) ([]st.Entry, error)

	// AppendReaction records a reaction on an existing entry.
	AppendReaction(ctx context.Context, channelID, messageID, emoji string) error

	// UpsertTransient inserts a transient or refreshes an identical one
	// (same subject, category and text). A refresh from a different source
	// message raises its confidence.
	UpsertTransient(ctx context.Context, t st.Transient) error

	// Transients lists a subject's transients, oldest first.
	Transients(ctx context.Context, subjectID string) ([]st.Transient, error)

	// SweepTransients deletes transients last refreshed before cutoff and
	// reports how many were removed.
	SweepTransients(ctx context.Context, cutoff time.Time) (int, error)

	// LoadAffect returns ErrNotFound before the first save.
	LoadAffect(ctx context.Context) (st.AffectRecord, error)
	SaveAffect(ctx context.Context, r st.AffectRecord) error

	Ping(ctx context.Context) error
	Close() error
}

// Open builds the backend named by kind ("sqlite" or "file").
func Open(kind, path string, log zerolog.Logger) (Store, error) {
	switch kind {
	case "file":
		return NewFileStore(path, log)
	default:
		return NewSQLiteStore(path)
	}
}

// refresh applies the upsert rule to an existing transient.
func refresh(old, incoming st.Transient) st.Transient {
	if incoming.SourceID != "" && incoming.SourceID != old.SourceID {
		old.Confidence++
		old.SourceID = incoming.SourceID
	}
	old.InsertedAt = incoming.InsertedAt
	return old
}
