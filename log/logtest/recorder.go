/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"strings"
	"sync"
	"time"

	"github.com/ssgreg/logf"

	"github.com/acronis/go-vlimit/log"
)

// RecordedEntry is a single entry captured by Recorder.
type RecordedEntry struct {
	Fields []log.Field
	Level  log.Level
	Time   time.Time
	Text   string
}

// FindField returns the first field with the given key.
func (re *RecordedEntry) FindField(key string) (*log.Field, bool) {
	for i := range re.Fields {
		if re.Fields[i].Key == key {
			return &re.Fields[i], true
		}
	}
	return nil, false
}

// entryStore is shared by a Recorder and all loggers derived from it with With.
type entryStore struct {
	mu      sync.RWMutex
	entries []RecordedEntry
}

//nolint:gocritic // signature is dictated by logf.EntryWriter
func (s *entryStore) WriteEntry(e logf.Entry) {
	fields := make([]log.Field, 0, len(e.DerivedFields)+len(e.Fields))
	fields = append(fields, e.DerivedFields...)
	fields = append(fields, e.Fields...)

	s.mu.Lock()
	s.entries = append(s.entries, RecordedEntry{Fields: fields, Level: log.LevelOf(e.Level), Time: e.Time, Text: e.Text})
	s.mu.Unlock()
}

func (s *entryStore) filter(match func(RecordedEntry) bool, limit int) []RecordedEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []RecordedEntry
	for _, e := range s.entries {
		if match(e) {
			res = append(res, e)
			if len(res) == limit {
				break
			}
		}
	}
	return res
}

// Recorder is a log.FieldLogger that records entries of every level.
type Recorder struct {
	*log.LogfAdapter
	store *entryStore
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	store := &entryStore{}
	return &Recorder{LogfAdapter: &log.LogfAdapter{Logger: logf.NewLogger(logf.LevelDebug, store)}, store: store}
}

// With returns a child Recorder writing into the same store.
func (r *Recorder) With(fs ...log.Field) log.FieldLogger {
	return &Recorder{LogfAdapter: &log.LogfAdapter{Logger: r.Logger.With(fs...)}, store: r.store}
}

// Entries returns a copy of all recorded entries.
func (r *Recorder) Entries() []RecordedEntry {
	return r.store.filter(func(RecordedEntry) bool { return true }, -1)
}

// FindEntry returns the first entry with exactly the given message.
func (r *Recorder) FindEntry(msg string) (RecordedEntry, bool) {
	return r.FindEntryByFilter(func(e RecordedEntry) bool { return e.Text == msg })
}

// FindEntryByPrefix returns the first entry whose message starts with prefix.
func (r *Recorder) FindEntryByPrefix(prefix string) (RecordedEntry, bool) {
	return r.FindEntryByFilter(func(e RecordedEntry) bool { return strings.HasPrefix(e.Text, prefix) })
}

// FindEntryByFilter returns the first entry accepted by match.
func (r *Recorder) FindEntryByFilter(match func(RecordedEntry) bool) (RecordedEntry, bool) {
	if found := r.store.filter(match, 1); len(found) != 0 {
		return found[0], true
	}
	return RecordedEntry{}, false
}

// FindAllEntriesByFilter returns all entries accepted by match.
func (r *Recorder) FindAllEntriesByFilter(match func(RecordedEntry) bool) []RecordedEntry {
	return r.store.filter(match, -1)
}

// Reset drops all recorded entries.
func (r *Recorder) Reset() {
	r.store.mu.Lock()
	r.store.entries = nil
	r.store.mu.Unlock()
}
