package objstore

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestPutGet(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %s", err)
	}

	key := "serialised-codes/req-1/tmp/batch-0.json"
	body := []byte(`["https://resolver/01/00012345600012/21/A1"]`)
	if err := s.Put(key, body); err != nil {
		t.Fatalf("Put failed: %s", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %s", err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("Get = %q, want %q", got, body)
	}

	exists, err := s.Exists(key)
	if err != nil || !exists {
		t.Errorf("Exists = %v, %v, want true", exists, err)
	}
}

func TestPutOverwrites(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %s", err)
	}

	key := "serialised-codes/req-1/tmp/batch-2.json"
	if err := s.Put(key, []byte("first")); err != nil {
		t.Fatalf("first Put failed: %s", err)
	}
	if err := s.Put(key, []byte("second")); err != nil {
		t.Fatalf("second Put failed: %s", err)
	}
	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %s", err)
	}
	if string(got) != "second" {
		t.Errorf("Get = %q, want overwrite to win", got)
	}
}

func TestPutLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New failed: %s", err)
	}
	if err := s.Put("a/b.json", []byte("x")); err != nil {
		t.Fatalf("Put failed: %s", err)
	}
	leftovers, err := filepath.Glob(filepath.Join(dir, "a", ".put-*"))
	if err != nil {
		t.Fatalf("glob failed: %s", err)
	}
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestGetMissing(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %s", err)
	}
	if _, err := s.Get("missing.json"); err == nil {
		t.Error("Get on missing key should fail")
	}
	exists, err := s.Exists("missing.json")
	if err != nil || exists {
		t.Errorf("Exists = %v, %v, want false", exists, err)
	}
}
