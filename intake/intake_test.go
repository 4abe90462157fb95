package intake

import (
	"fmt"
	"testing"
)

func imgFile(name string, size int) File {
	data := make([]byte, size)
	return File{Name: name, MIMEType: "image/png", Size: int64(size), Data: data}
}

// WHAT: accepted files get a preview and land at the tail, in order.
// WHY: position is the only ordering key, so Add must preserve input order.
func TestAdd_OrderAndPairing(t *testing.T) {
	l := NewList(Config{Accept: []string{"image/*"}})
	n, rej := l.Add(imgFile("a.png", 10), imgFile("b.png", 10), imgFile("c.png", 10))
	if n != 3 || len(rej) != 0 {
		t.Fatalf("Add = (%d, %v), want (3, none)", n, rej)
	}
	infos := l.Entries()
	for i, want := range []string{"a.png", "b.png", "c.png"} {
		if infos[i].Name != want {
			t.Errorf("entry %d = %q, want %q", i, infos[i].Name, want)
		}
	}
}

// WHAT: a rejected file yields a Rejection and does not disturb files
// accepted in the same batch.
// WHY: one bad file must not abort the batch or leave half-added state.
func TestAdd_PerFileRejection(t *testing.T) {
	l := NewList(Config{Accept: []string{"image/png", "image/jpeg"}, MaxBytes: 32})
	n, rej := l.Add(
		imgFile("ok.png", 10),
		File{Name: "doc.pdf", MIMEType: "application/pdf", Size: 5, Data: []byte("abcde")},
		File{Name: "big.png", MIMEType: "image/png", Size: 64, Data: make([]byte, 64)},
		File{Name: "empty.png", MIMEType: "image/png", Size: 0},
	)
	if n != 1 {
		t.Fatalf("accepted = %d, want 1", n)
	}
	wantReasons := map[string]string{
		"doc.pdf":   RejectType,
		"big.png":   RejectTooLarge,
		"empty.png": RejectEmpty,
	}
	if len(rej) != len(wantReasons) {
		t.Fatalf("rejections = %v, want %d", rej, len(wantReasons))
	}
	for _, r := range rej {
		if wantReasons[r.Name] != r.Reason {
			t.Errorf("%s rejected for %q, want %q", r.Name, r.Reason, wantReasons[r.Name])
		}
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d after mixed batch, want 1", l.Len())
	}
}

// WHAT: the file over the count limit is rejected with zero side effects
// on the ten already in the list.
// WHY: the limit check runs before any state is touched for that file.
func TestAdd_CountLimitZeroSideEffects(t *testing.T) {
	l := NewList(Config{MaxFiles: 10})
	for i := 0; i < 10; i++ {
		if n, _ := l.Add(imgFile(fmt.Sprintf("f%d.png", i), 4)); n != 1 {
			t.Fatalf("file %d not accepted", i)
		}
	}
	n, rej := l.Add(imgFile("eleventh.png", 4))
	if n != 0 || len(rej) != 1 || rej[0].Reason != RejectTooMany {
		t.Fatalf("11th file: accepted=%d rej=%v, want rejection %q", n, rej, RejectTooMany)
	}
	if l.Len() != 10 {
		t.Fatalf("Len = %d after over-limit add, want 10", l.Len())
	}
}

// WHAT: MoveEntry shifts file and preview together; RemoveAt deletes the
// pair and releases the preview.
// WHY: with a single entry slice there is no way for the two sequences
// to desync, and this test pins that behavior.
func TestMoveAndRemove_PairStaysAtomic(t *testing.T) {
	released := map[string]int{}
	l := NewList(Config{OnPreviewRelease: func(name string) { released[name]++ }})
	l.Add(imgFile("a.png", 4), imgFile("b.png", 4), imgFile("c.png", 4))

	if err := l.MoveEntry(2, 0); err != nil {
		t.Fatal(err)
	}
	infos := l.Entries()
	if infos[0].Name != "c.png" || infos[1].Name != "a.png" || infos[2].Name != "b.png" {
		t.Fatalf("after move: %v", infos)
	}

	if err := l.RemoveAt(1); err != nil {
		t.Fatal(err)
	}
	if released["a.png"] != 1 {
		t.Fatalf("a.png released %d times, want 1", released["a.png"])
	}
	if l.Len() != 2 {
		t.Fatalf("Len = %d after remove, want 2", l.Len())
	}

	if err := l.MoveEntry(0, 9); err == nil {
		t.Fatal("move to out-of-range index succeeded")
	}
	if err := l.RemoveAt(-1); err == nil {
		t.Fatal("remove at negative index succeeded")
	}
}

// WHAT: Crop swaps the preview bytes in place and Snapshot ships the
// edited bytes to the engine; name and position are unchanged.
// WHY: what the user sees in the preview is what gets converted.
func TestCrop_EditedBytesShip(t *testing.T) {
	l := NewList(Config{})
	l.Add(imgFile("photo.png", 8))
	edited := []byte("cropped")
	if err := l.Crop(0, edited); err != nil {
		t.Fatal(err)
	}
	snap := l.Snapshot()
	if string(snap[0].Data) != "cropped" || snap[0].Size != int64(len(edited)) {
		t.Fatalf("snapshot = %q (%d bytes), want cropped bytes", snap[0].Data, snap[0].Size)
	}
	if snap[0].Name != "photo.png" {
		t.Fatalf("crop changed the name to %q", snap[0].Name)
	}
	if err := l.Crop(0, nil); err == nil {
		t.Fatal("empty crop accepted")
	}
}

// WHAT: previews are released on run completion (success and failure
// both call FinishRun) and on Close, exactly once, and cropped bytes are
// committed to the file before release so a retry converts them.
// WHY: preview resources are scoped; leaking one per run adds up.
func TestPreviewRelease_EveryExitPath(t *testing.T) {
	released := map[string]int{}
	l := NewList(Config{OnPreviewRelease: func(name string) { released[name]++ }})
	l.Add(imgFile("a.png", 4), imgFile("b.png", 4))
	if err := l.Crop(0, []byte("edit")); err != nil {
		t.Fatal(err)
	}

	if !l.TryBegin() {
		t.Fatal("TryBegin refused an idle list")
	}
	if l.TryBegin() {
		t.Fatal("TryBegin allowed a second concurrent run")
	}
	l.FinishRun()

	if released["a.png"] != 1 || released["b.png"] != 1 {
		t.Fatalf("releases after run = %v, want one each", released)
	}
	snap := l.Snapshot()
	if string(snap[0].Data) != "edit" {
		t.Fatalf("retry snapshot = %q, want committed crop", snap[0].Data)
	}

	l.Close()
	l.Close() // idempotent
	if released["a.png"] != 1 || released["b.png"] != 1 {
		t.Fatalf("releases after close = %v, want still one each", released)
	}
	if n, rej := l.Add(imgFile("late.png", 4)); n != 0 || len(rej) != 1 {
		t.Fatalf("add after close accepted: n=%d rej=%v", n, rej)
	}
}

// WHAT: wildcard accept entries match by major type, exact entries
// case-insensitively, and an empty accept list matches everything.
func TestAccepts_Patterns(t *testing.T) {
	cases := []struct {
		accept []string
		mime   string
		want   bool
	}{
		{[]string{"image/*"}, "image/webp", true},
		{[]string{"image/*"}, "application/pdf", false},
		{[]string{"application/pdf"}, "Application/PDF", true},
		{nil, "anything/at-all", true},
	}
	for _, tc := range cases {
		l := NewList(Config{Accept: tc.accept})
		if got := l.accepts(tc.mime); got != tc.want {
			t.Errorf("accepts(%q) with %v = %v, want %v", tc.mime, tc.accept, got, tc.want)
		}
	}
}
