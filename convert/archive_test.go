package convert

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestBuildZip_FlatOrderedEntries(t *testing.T) {
	pages := []PageImage{
		{Name: "page-001.png", Data: []byte("one")},
		{Name: "page-002.png", Data: []byte("two")},
		{Name: "page-003.png", Data: []byte("three")},
	}

	data, err := BuildZip(pages)
	if err != nil {
		t.Fatal(err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	if len(zr.File) != 3 {
		t.Fatalf("entries: got %d, want 3", len(zr.File))
	}
	for i, f := range zr.File {
		if f.Name != pages[i].Name {
			t.Errorf("entry %d: got %q, want %q", i, f.Name, pages[i].Name)
		}
		if strings.Contains(f.Name, "/") {
			t.Errorf("entry %q is nested; archive must be flat", f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(body, pages[i].Data) {
			t.Errorf("entry %q: content mismatch", f.Name)
		}
	}
}

func TestBuildZip_Empty(t *testing.T) {
	_, err := BuildZip(nil)
	if err == nil {
		t.Fatal("expected error")
	}
	asCode(t, err, CodeEmptyZip)
}
