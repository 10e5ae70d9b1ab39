package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/keshon/sable/internal/persona"
	st "github.com/keshon/sable/internal/storagetypes"
)

// Fixed-width UTC timestamps so text comparison orders them correctly.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB

	idMu    sync.Mutex
	entropy *rand.Rand
}

// NewSQLiteStore opens or creates the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) newID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		message_id  TEXT NOT NULL,
		channel_id  TEXT NOT NULL,
		author_id   TEXT NOT NULL,
		author_name TEXT NOT NULL,
		role        TEXT NOT NULL,
		text        TEXT NOT NULL,
		token_count INTEGER NOT NULL,
		sent_at     TEXT NOT NULL,
		reactions   TEXT NOT NULL DEFAULT '[]',
		attachments TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (channel_id, message_id)
	);
	CREATE INDEX IF NOT EXISTS idx_entries_channel_sent ON entries(channel_id, sent_at DESC);

	CREATE TABLE IF NOT EXISTS transients (
		id          TEXT PRIMARY KEY,
		subject_id  TEXT NOT NULL,
		category    TEXT NOT NULL,
		text        TEXT NOT NULL,
		confidence  INTEGER NOT NULL DEFAULT 1,
		source_id   TEXT NOT NULL DEFAULT '',
		inserted_at TEXT NOT NULL,
		UNIQUE (subject_id, category, text)
	);
	CREATE INDEX IF NOT EXISTS idx_transients_inserted ON transients(inserted_at);

	CREATE TABLE IF NOT EXISTS affect (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		valence    REAL NOT NULL,
		arousal    REAL NOT NULL,
		dominance  REAL NOT NULL,
		mood       TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) SaveEntry(ctx context.Context, e st.Entry) error {
	reactions, _ := json.Marshal(nonNil(e.Reactions))
	attachments, _ := json.Marshal(nonNil(e.Attachments))
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (message_id, channel_id, author_id, author_name, role, text, token_count, sent_at, reactions, attachments)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id, message_id) DO UPDATE SET
			text = excluded.text,
			token_count = excluded.token_count`,
		e.MessageID, e.ChannelID, e.AuthorID, e.AuthorName, string(e.Role), e.Text, e.TokenCount,
		e.SentAt.UTC().Format(timeFormat), string(reactions), string(attachments))
	if err != nil {
		return fmt.Errorf("save entry %s: %w", e.MessageID, err)
	}
	return nil
}

func (s *SQLiteStore) RecentEntries(ctx context.Context, channelID string, limit int) ([]st.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, channel_id, author_id, author_name, role, text, token_count, sent_at, reactions, attachments
		FROM entries WHERE channel_id = ?
		ORDER BY sent_at DESC, rowid DESC LIMIT ?`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []st.Entry
	for rows.Next() {
		var e st.Entry
		var role, sentAt, reactions, attachments string
		if err := rows.Scan(&e.MessageID, &e.ChannelID, &e.AuthorID, &e.AuthorName, &role, &e.Text,
			&e.TokenCount, &sentAt, &reactions, &attachments); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Role = st.Role(role)
		e.SentAt, _ = time.Parse(timeFormat, sentAt)
		_ = json.Unmarshal([]byte(reactions), &e.Reactions)
		_ = json.Unmarshal([]byte(attachments), &e.Attachments)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendReaction(ctx context.Context, channelID, messageID, emoji string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT reactions FROM entries WHERE channel_id = ? AND message_id = ?`,
		channelID, messageID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	var reactions []string
	_ = json.Unmarshal([]byte(raw), &reactions)
	reactions = append(reactions, emoji)
	data, _ := json.Marshal(reactions)
	if _, err := tx.ExecContext(ctx, `UPDATE entries SET reactions = ? WHERE channel_id = ? AND message_id = ?`,
		string(data), channelID, messageID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpsertTransient(ctx context.Context, t st.Transient) error {
	if t.Confidence < 1 {
		t.Confidence = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transients (id, subject_id, category, text, confidence, source_id, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject_id, category, text) DO UPDATE SET
			confidence = CASE
				WHEN excluded.source_id != '' AND excluded.source_id != transients.source_id
				THEN transients.confidence + 1 ELSE transients.confidence END,
			source_id = CASE WHEN excluded.source_id != '' THEN excluded.source_id ELSE transients.source_id END,
			inserted_at = excluded.inserted_at`,
		s.newID(), t.SubjectID, t.Category.String(), t.Text, t.Confidence, t.SourceID,
		t.InsertedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("upsert transient: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Transients(ctx context.Context, subjectID string) ([]st.Transient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, category, text, confidence, source_id, inserted_at
		FROM transients WHERE subject_id = ? ORDER BY rowid`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query transients: %w", err)
	}
	defer rows.Close()

	var out []st.Transient
	for rows.Next() {
		var t st.Transient
		var cat, at string
		if err := rows.Scan(&t.ID, &t.SubjectID, &cat, &t.Text, &t.Confidence, &t.SourceID, &at); err != nil {
			return nil, fmt.Errorf("scan transient: %w", err)
		}
		c, err := persona.ParseCategory(cat)
		if err != nil {
			continue
		}
		t.Category = c
		t.InsertedAt, _ = time.Parse(timeFormat, at)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SweepTransients(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transients WHERE inserted_at < ?`,
		cutoff.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("sweep transients: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) LoadAffect(ctx context.Context) (st.AffectRecord, error) {
	var r st.AffectRecord
	var at string
	err := s.db.QueryRowContext(ctx, `SELECT valence, arousal, dominance, mood, updated_at FROM affect WHERE id = 1`).
		Scan(&r.Valence, &r.Arousal, &r.Dominance, &r.Mood, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, fmt.Errorf("load affect: %w", err)
	}
	r.UpdatedAt, _ = time.Parse(timeFormat, at)
	return r, nil
}

func (s *SQLiteStore) SaveAffect(ctx context.Context, r st.AffectRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO affect (id, valence, arousal, dominance, mood, updated_at) VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			valence = excluded.valence, arousal = excluded.arousal, dominance = excluded.dominance,
			mood = excluded.mood, updated_at = excluded.updated_at`,
		r.Valence, r.Arousal, r.Dominance, r.Mood, r.UpdatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("save affect: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
