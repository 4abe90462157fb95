// Package downloads tracks conversion results offered to the client.
//
// Each completed run publishes one Record; the client fetches the bytes
// once (or again on retry) and the record carries a lifecycle status so
// the UI can show per-download progress and errors.
package downloads

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/convbox/idgen"
)

// Status is the lifecycle of a download record.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Record is one downloadable conversion result.
type Record struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Status      Status    `json:"status"`
	Size        int64     `json:"size"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	data []byte
}

// Bytes returns the payload. Nil after the record failed.
func (r *Record) Bytes() []byte { return r.data }

// Store holds download records in memory. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	records map[string]*Record
	newID   idgen.Generator
	now     func() time.Time
}

// NewStore creates an empty Store. IDs are "dl_"-prefixed UUIDv7s.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*Record),
		newID:   idgen.Prefixed("dl_", idgen.Default),
		now:     time.Now,
	}
}

// Publish registers a completed conversion result as pending download
// and returns its record.
func (s *Store) Publish(filename, contentType string, data []byte) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &Record{
		ID:          s.newID(),
		Filename:    filename,
		ContentType: contentType,
		Status:      StatusPending,
		Size:        int64(len(data)),
		CreatedAt:   s.now().UTC(),
		data:        data,
	}
	s.records[r.ID] = r
	return r
}

// Get returns the record for id.
func (s *Store) Get(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("downloads: no record %q", id)
	}
	return r, nil
}

// Begin moves a pending or failed record to downloading and returns it.
// A retry after failure is allowed; a concurrent second download of the
// same record is not.
func (s *Store) Begin(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("downloads: no record %q", id)
	}
	switch r.Status {
	case StatusPending, StatusFailed, StatusCompleted:
		r.Status = StatusDownloading
		r.Error = ""
		return r, nil
	default:
		return nil, fmt.Errorf("downloads: record %q is %s", id, r.Status)
	}
}

// Complete marks a downloading record as completed.
func (s *Store) Complete(id string) error {
	return s.finish(id, StatusCompleted, "")
}

// Fail marks a downloading record as failed with a message.
func (s *Store) Fail(id, msg string) error {
	return s.finish(id, StatusFailed, msg)
}

func (s *Store) finish(id string, st Status, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("downloads: no record %q", id)
	}
	if r.Status != StatusDownloading {
		return fmt.Errorf("downloads: record %q is %s, not downloading", id, r.Status)
	}
	r.Status = st
	r.Error = msg
	return nil
}

// Remove deletes a record and its payload.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

// List returns all records newest first, payloads excluded.
func (s *Store) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		c := *r
		c.data = nil
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
