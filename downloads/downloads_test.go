package downloads

import (
	"strings"
	"testing"
	"time"
)

func TestPublishAndGet(t *testing.T) {
	s := NewStore()
	r := s.Publish("converted-images.pdf", "application/pdf", []byte("%PDF"))
	if !strings.HasPrefix(r.ID, "dl_") {
		t.Fatalf("ID = %q, want dl_ prefix", r.ID)
	}
	if r.Status != StatusPending || r.Size != 4 {
		t.Fatalf("record = %+v", r)
	}
	got, err := s.Get(r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Bytes()) != "%PDF" {
		t.Fatalf("payload = %q", got.Bytes())
	}
	if _, err := s.Get("dl_missing"); err == nil {
		t.Fatal("Get of missing record succeeded")
	}
}

// WHAT: pending -> downloading -> completed, and a failed download can
// be retried from failed back through downloading.
// WHY: the UI offers retry on a failed row; the state machine must allow
// it without allowing two concurrent downloads of the same record.
func TestLifecycle_RetryAfterFailure(t *testing.T) {
	s := NewStore()
	r := s.Publish("scan-images.zip", "application/zip", []byte("PK"))

	if _, err := s.Begin(r.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Begin(r.ID); err == nil {
		t.Fatal("second concurrent Begin succeeded")
	}
	if err := s.Fail(r.ID, "connection reset"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(r.ID)
	if got.Status != StatusFailed || got.Error != "connection reset" {
		t.Fatalf("after fail: %+v", got)
	}

	// Retry.
	if _, err := s.Begin(r.ID); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if err := s.Complete(r.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(r.ID)
	if got.Status != StatusCompleted || got.Error != "" {
		t.Fatalf("after retry: %+v", got)
	}

	// Completing a non-downloading record is a state error.
	if err := s.Complete(r.ID); err == nil {
		t.Fatal("Complete on completed record succeeded")
	}
}

func TestList_NewestFirstWithoutPayloads(t *testing.T) {
	s := NewStore()
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { ts = ts.Add(time.Second); return ts }

	s.Publish("first.pdf", "application/pdf", []byte("111"))
	s.Publish("second.zip", "application/zip", []byte("222"))
	s.Publish("third.pdf", "application/pdf", []byte("333"))

	got := s.List()
	if len(got) != 3 {
		t.Fatalf("List = %d records", len(got))
	}
	for i, want := range []string{"third.pdf", "second.zip", "first.pdf"} {
		if got[i].Filename != want {
			t.Errorf("List[%d] = %q, want %q", i, got[i].Filename, want)
		}
		if got[i].Bytes() != nil {
			t.Errorf("List[%d] carries payload", i)
		}
	}
}

func TestRemove(t *testing.T) {
	s := NewStore()
	r := s.Publish("x.pdf", "application/pdf", []byte("x"))
	s.Remove(r.ID)
	if s.Len() != 0 {
		t.Fatalf("Len = %d after remove", s.Len())
	}
	s.Remove(r.ID) // idempotent
}
