// Package intake maintains the ordered pairing between uploaded files and
// their renderable previews for one conversion session.
//
// The position in the list is the only ordering key. Historically the two
// sequences were kept in separate structures and silently desynced when
// one was mutated without the other; here a single Entry slice makes the
// pairing structural, and every mutation goes through List methods that
// touch both sides in the same critical section.
//
// Previews are scoped resources: whatever backs them is released when the
// entry is removed, when a pipeline run finishes (success or failure) and
// when the list is closed: every exit path.
package intake

import (
	"fmt"
	"strings"
	"sync"
)

// Rejection reasons. Rejections are surfaced to the user like an alert,
// never returned as a hard error: one bad file does not abort the batch.
const (
	RejectType     = "type"
	RejectTooMany  = "too_many"
	RejectTooLarge = "too_large"
	RejectEmpty    = "empty"
)

// Rejection explains why one file was not accepted.
type Rejection struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
	Detail string `json:"detail"`
}

// File is an uploaded file owned by the list until removal or close.
type File struct {
	Name     string
	MIMEType string
	Size     int64
	Data     []byte
}

// Preview is the renderable stand-in for a file's bytes. Release is
// idempotent and always invoked by the owning List on the entry's last
// exit path.
type Preview struct {
	data     []byte
	release  func()
	released bool
}

// Bytes returns the preview content, nil once released.
func (p *Preview) Bytes() []byte {
	if p.released {
		return nil
	}
	return p.data
}

// Released reports whether the preview resource has been given back.
func (p *Preview) Released() bool { return p.released }

func (p *Preview) doRelease() {
	if p.released {
		return
	}
	p.released = true
	p.data = nil
	if p.release != nil {
		p.release()
	}
}

// Entry pairs a file with its preview at one list position.
type Entry struct {
	File    File
	Preview *Preview
	cropped bool
}

// Config bounds what a List accepts.
type Config struct {
	// Accept lists allowed content types; entries may end in "/*"
	// (e.g. "image/*"). Empty means accept everything.
	Accept []string

	// MaxFiles caps the list length (default: 10).
	MaxFiles int

	// MaxBytes caps a single file's size (default: 10 MB).
	MaxBytes int64

	// OnPreviewRelease, when set, is invoked once per released preview.
	// Stands in for revoking an object URL or deleting a temp file.
	OnPreviewRelease func(name string)
}

func (c *Config) defaults() {
	if c.MaxFiles <= 0 {
		c.MaxFiles = 10
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
}

// List is the single source of truth for one session's paired
// file/preview sequence. Safe for concurrent use.
type List struct {
	mu      sync.Mutex
	cfg     Config
	entries []*Entry
	running bool
	closed  bool
}

// NewList creates an empty List with the given acceptance rules.
func NewList(cfg Config) *List {
	cfg.defaults()
	return &List{cfg: cfg}
}

// Len returns the number of entries.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Add filters and appends files in order. Accepted files acquire a
// preview; each rejected file yields a Rejection and leaves previously
// accepted entries untouched.
func (l *List) Add(files ...File) (accepted int, rejected []Rejection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		for _, f := range files {
			rejected = append(rejected, Rejection{Name: f.Name, Reason: RejectTooMany, Detail: "session is closed"})
		}
		return 0, rejected
	}

	for _, f := range files {
		if r, ok := l.check(f); !ok {
			rejected = append(rejected, r)
			continue
		}
		name := f.Name
		preview := &Preview{data: f.Data}
		if l.cfg.OnPreviewRelease != nil {
			onRelease := l.cfg.OnPreviewRelease
			preview.release = func() { onRelease(name) }
		}
		l.entries = append(l.entries, &Entry{File: f, Preview: preview})
		accepted++
	}
	return accepted, rejected
}

func (l *List) check(f File) (Rejection, bool) {
	if !l.accepts(f.MIMEType) {
		return Rejection{
			Name:   f.Name,
			Reason: RejectType,
			Detail: fmt.Sprintf("%q is not an accepted file type", f.MIMEType),
		}, false
	}
	if len(l.entries) >= l.cfg.MaxFiles {
		return Rejection{
			Name:   f.Name,
			Reason: RejectTooMany,
			Detail: fmt.Sprintf("maximum %d files per conversion", l.cfg.MaxFiles),
		}, false
	}
	if f.Size > l.cfg.MaxBytes {
		return Rejection{
			Name:   f.Name,
			Reason: RejectTooLarge,
			Detail: fmt.Sprintf("exceeds the %dMB limit", l.cfg.MaxBytes/(1024*1024)),
		}, false
	}
	if len(f.Data) == 0 {
		return Rejection{
			Name:   f.Name,
			Reason: RejectEmpty,
			Detail: "file is empty or unreadable",
		}, false
	}
	return Rejection{}, true
}

func (l *List) accepts(mimeType string) bool {
	if len(l.cfg.Accept) == 0 {
		return true
	}
	for _, a := range l.cfg.Accept {
		if prefix, ok := strings.CutSuffix(a, "/*"); ok {
			if strings.HasPrefix(mimeType, prefix+"/") {
				return true
			}
			continue
		}
		if strings.EqualFold(a, mimeType) {
			return true
		}
	}
	return false
}

// MoveEntry moves the entry at from to position to. File and preview move
// together; there is no way to shift one without the other.
func (l *List) MoveEntry(from, to int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.bounds(from); err != nil {
		return err
	}
	if err := l.bounds(to); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	e := l.entries[from]
	l.entries = append(l.entries[:from], l.entries[from+1:]...)
	l.entries = append(l.entries[:to], append([]*Entry{e}, l.entries[to:]...)...)
	return nil
}

// RemoveAt removes the entry at i from both sequences in one operation
// and releases its preview resource.
func (l *List) RemoveAt(i int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.bounds(i); err != nil {
		return err
	}
	l.entries[i].Preview.doRelease()
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
	return nil
}

// Crop replaces the preview bytes at i in place. Name and position are
// untouched; the backing upload is not modified. Because conversion input
// is taken from previews, the edited bytes are what ships to the engine.
func (l *List) Crop(i int, newBytes []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.bounds(i); err != nil {
		return err
	}
	if len(newBytes) == 0 {
		return fmt.Errorf("crop of entry %d produced no bytes", i)
	}
	e := l.entries[i]
	if e.Preview.released {
		return fmt.Errorf("entry %d preview already released", i)
	}
	e.Preview.data = newBytes
	e.cropped = true
	return nil
}

func (l *List) bounds(i int) error {
	if i < 0 || i >= len(l.entries) {
		return fmt.Errorf("index %d out of range (len %d)", i, len(l.entries))
	}
	return nil
}

// Snapshot returns the current ordered inputs for a conversion run:
// cropped entries contribute their edited bytes, everything else the
// original upload. The returned slices alias list data; callers treat
// them as read-only.
func (l *List) Snapshot() []File {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]File, 0, len(l.entries))
	for _, e := range l.entries {
		f := e.File
		if e.cropped && !e.Preview.released {
			f.Data = e.Preview.data
			f.Size = int64(len(f.Data))
		}
		out = append(out, f)
	}
	return out
}

// TryBegin marks a pipeline run in flight. It fails when a run is
// already in flight or the list is closed; two runs must never mutate
// the same list.
func (l *List) TryBegin() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running || l.closed {
		return false
	}
	l.running = true
	return true
}

// FinishRun ends the in-flight run and releases every preview resource.
// Runs on success and on failure alike; the uploaded bytes stay, so a
// retry can re-run the pipeline from validate.
func (l *List) FinishRun() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = false
	for _, e := range l.entries {
		// A crop lives in the preview; commit it before release so a
		// retry converts the edited bytes.
		if e.cropped && !e.Preview.released {
			e.File.Data = e.Preview.data
			e.File.Size = int64(len(e.File.Data))
			e.cropped = false
		}
		e.Preview.doRelease()
	}
}

// Running reports whether a pipeline run is in flight.
func (l *List) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Close releases all previews and empties the list. Idempotent.
func (l *List) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for _, e := range l.entries {
		e.Preview.doRelease()
	}
	l.entries = nil
}

// Entries returns a snapshot of names, sizes and crop state for display.
func (l *List) Entries() []EntryInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EntryInfo, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, EntryInfo{
			Name:    e.File.Name,
			MIME:    e.File.MIMEType,
			Size:    e.File.Size,
			Cropped: e.cropped,
		})
	}
	return out
}

// EntryInfo is the display view of one entry.
type EntryInfo struct {
	Name    string `json:"name"`
	MIME    string `json:"mime_type"`
	Size    int64  `json:"size"`
	Cropped bool   `json:"cropped"`
}
