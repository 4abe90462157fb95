package session

import (
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/convbox/intake"
)

func TestCreateGetDelete(t *testing.T) {
	s := NewStore(Config{})
	sess := s.Create()
	if !strings.HasPrefix(sess.ID, "sess_") {
		t.Fatalf("ID = %q", sess.ID)
	}
	if sess.Images == nil || sess.Documents == nil || sess.Downloads == nil {
		t.Fatal("session stores not initialised")
	}

	got, err := s.Get(sess.ID)
	if err != nil || got != sess {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if _, err := s.Get("sess_missing"); err == nil {
		t.Fatal("Get of missing session succeeded")
	}

	s.Delete(sess.ID)
	s.Delete(sess.ID) // idempotent
	if s.Len() != 0 {
		t.Fatalf("Len = %d after delete", s.Len())
	}
}

// WHAT: sessions idle past the TTL are swept and their previews released;
// a session touched via Get survives the sweep.
// WHY: expiry is the last exit path for preview resources.
func TestSweep_ExpiresIdleAndReleasesPreviews(t *testing.T) {
	released := 0
	s := NewStore(Config{
		TTL:    time.Minute,
		Images: intake.Config{OnPreviewRelease: func(string) { released++ }},
	})
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	stale := s.Create()
	stale.Images.Add(intake.File{Name: "a.png", MIMEType: "image/png", Size: 3, Data: []byte("abc")})
	fresh := s.Create()

	clock = clock.Add(50 * time.Second)
	if _, err := s.Get(fresh.ID); err != nil {
		t.Fatal(err)
	}

	clock = clock.Add(30 * time.Second) // stale now 80s idle, fresh 30s
	if n := s.Sweep(); n != 1 {
		t.Fatalf("Sweep = %d, want 1", n)
	}
	if _, err := s.Get(stale.ID); err == nil {
		t.Fatal("expired session still reachable")
	}
	if _, err := s.Get(fresh.ID); err != nil {
		t.Fatalf("fresh session swept: %v", err)
	}
	if released != 1 {
		t.Fatalf("preview released %d times, want 1", released)
	}
}
