package storage

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/keshon/datastore"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	st "github.com/keshon/sable/internal/storagetypes"
)

// FileEntryCap bounds how many entries a channel keeps in the JSON file.
const FileEntryCap = 1000

// FileSaveInterval is how often the JSON file is flushed. Close flushes
// whatever is left.
const FileSaveInterval = 10 * time.Second

const (
	keyAffect   = "affect"
	keySubjects = "subjects"
	keyPing     = "ping"
)

func entriesKey(channelID string) string    { return "entries:" + channelID }
func transientsKey(subjectID string) string { return "transients:" + subjectID }

// FileStore implements Store on a single JSON file. Suited to small
// deployments; every write rewrites a whole key.
type FileStore struct {
	ds     *datastore.DataStore
	path   string
	cancel context.CancelFunc
	mu     sync.Mutex
}

func NewFileStore(filePath string, log zerolog.Logger) (*FileStore, error) {
	ctx, cancel := context.WithCancel(context.Background())
	ds, err := datastore.New(ctx, filePath,
		datastore.WithSaveInterval(FileSaveInterval),
		datastore.WithLogger(slog.New(zerolog.NewSlogHandler(log))),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	return &FileStore{ds: ds, path: filePath, cancel: cancel}, nil
}

// Close stops the autosave loop and writes the file one last time.
func (s *FileStore) Close() error {
	s.cancel()
	return s.ds.Close()
}

func (s *FileStore) load(key string, out any) (bool, error) {
	return s.ds.Get(key, out)
}

func (s *FileStore) SaveEntry(_ context.Context, e st.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []st.Entry
	if _, err := s.load(entriesKey(e.ChannelID), &list); err != nil {
		return err
	}
	for i := range list {
		if list[i].MessageID == e.MessageID {
			list[i].Text = e.Text
			list[i].TokenCount = e.TokenCount
			return s.ds.Set(entriesKey(e.ChannelID), list)
		}
	}
	list = append(list, e)
	sort.SliceStable(list, func(i, j int) bool { return list[i].SentAt.Before(list[j].SentAt) })
	if len(list) > FileEntryCap {
		list = list[len(list)-FileEntryCap:]
	}
	return s.ds.Set(entriesKey(e.ChannelID), list)
}

func (s *FileStore) RecentEntries(_ context.Context, channelID string, limit int) ([]st.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []st.Entry
	if _, err := s.load(entriesKey(channelID), &list); err != nil {
		return nil, err
	}
	out := make([]st.Entry, 0, min(limit, len(list)))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (s *FileStore) AppendReaction(_ context.Context, channelID, messageID, emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []st.Entry
	if _, err := s.load(entriesKey(channelID), &list); err != nil {
		return err
	}
	for i := range list {
		if list[i].MessageID == messageID {
			list[i].Reactions = append(list[i].Reactions, emoji)
			return s.ds.Set(entriesKey(channelID), list)
		}
	}
	return ErrNotFound
}

func (s *FileStore) UpsertTransient(_ context.Context, t st.Transient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []st.Transient
	found, err := s.load(transientsKey(t.SubjectID), &list)
	if err != nil {
		return err
	}
	if !found {
		if err := s.addSubject(t.SubjectID); err != nil {
			return err
		}
	}
	for i := range list {
		if list[i].Category == t.Category && list[i].Text == t.Text {
			list[i] = refresh(list[i], t)
			return s.ds.Set(transientsKey(t.SubjectID), list)
		}
	}
	if t.Confidence < 1 {
		t.Confidence = 1
	}
	t.ID = ulid.Make().String()
	list = append(list, t)
	return s.ds.Set(transientsKey(t.SubjectID), list)
}

func (s *FileStore) addSubject(subjectID string) error {
	var subjects []string
	if _, err := s.load(keySubjects, &subjects); err != nil {
		return err
	}
	for _, id := range subjects {
		if id == subjectID {
			return nil
		}
	}
	return s.ds.Set(keySubjects, append(subjects, subjectID))
}

func (s *FileStore) Transients(_ context.Context, subjectID string) ([]st.Transient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []st.Transient
	if _, err := s.load(transientsKey(subjectID), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *FileStore) SweepTransients(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var subjects []string
	if _, err := s.load(keySubjects, &subjects); err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range subjects {
		var list []st.Transient
		if _, err := s.load(transientsKey(id), &list); err != nil {
			return removed, err
		}
		kept := list[:0]
		for _, t := range list {
			if t.InsertedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		if err := s.ds.Set(transientsKey(id), kept); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (s *FileStore) LoadAffect(_ context.Context) (st.AffectRecord, error) {
	var r st.AffectRecord
	found, err := s.load(keyAffect, &r)
	if err != nil {
		return r, err
	}
	if !found {
		return r, ErrNotFound
	}
	return r, nil
}

func (s *FileStore) SaveAffect(_ context.Context, r st.AffectRecord) error {
	return s.ds.Set(keyAffect, r)
}

// Ping fails once the store is closed or the file is no longer writable.
func (s *FileStore) Ping(_ context.Context) error {
	if err := s.ds.Set(keyPing, time.Now().UTC()); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	return f.Close()
}
