package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func tempRoot(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	s, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return s
}

func TestWriteAndRead(t *testing.T) {
	s := tempRoot(t)
	content := []byte("type Order struct{}\n")
	if err := s.Write("Order.g.txt", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("Order.g.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempRoot(t)
	if err := s.Write("a/b/c.txt", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("a/b/c.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestWriteIfChanged(t *testing.T) {
	s := tempRoot(t)

	wrote, err := s.WriteIfChanged("out.txt", []byte("v1"))
	if err != nil || !wrote {
		t.Fatalf("first write: wrote=%v err=%v", wrote, err)
	}
	info1, _ := os.Stat(filepath.Join(s.Root(), "out.txt"))

	wrote, err = s.WriteIfChanged("out.txt", []byte("v1"))
	if err != nil || wrote {
		t.Fatalf("identical write: wrote=%v err=%v", wrote, err)
	}
	info2, _ := os.Stat(filepath.Join(s.Root(), "out.txt"))
	if !info1.ModTime().Equal(info2.ModTime()) {
		t.Error("identical content must not touch the file")
	}

	wrote, err = s.WriteIfChanged("out.txt", []byte("v2"))
	if err != nil || !wrote {
		t.Fatalf("changed write: wrote=%v err=%v", wrote, err)
	}
}

func TestDeletePrunesEmptyDirs(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("gen/models/del.txt", []byte("bye"))
	if err := s.Delete("gen/models/del.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("gen/models/del.txt"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected not-exist reading deleted file, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "gen")); !errors.Is(err, fs.ErrNotExist) {
		t.Error("empty parent dirs should be pruned")
	}
	if _, err := os.Stat(s.Root()); err != nil {
		t.Error("root must survive pruning")
	}
}

func TestDeleteMissing(t *testing.T) {
	s := tempRoot(t)
	err := s.Delete("nope.txt")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected not-exist, got %v", err)
	}
}

func TestList(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("a.tpl", []byte("a"))
	_ = s.Write("sub/b.tpl", []byte("b"))
	_ = s.Write("readme.txt", []byte("not a template"))

	items, err := s.List("", ".tpl")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	paths := map[string]bool{}
	for _, it := range items {
		paths[it.Path] = true
	}
	if !paths["sub/b.tpl"] {
		t.Errorf("expected slash-separated path, got %v", paths)
	}

	all, _ := s.List("", "")
	if len(all) != 3 {
		t.Errorf("empty ext should list all files, got %d", len(all))
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempRoot(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.txt",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteLeavesNoTemp(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("atomic.txt", []byte("original content"))

	updated := []byte("updated content")
	if err := s.Write("atomic.txt", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.txt")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(s.root, tmpPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestClearDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scratch")
	if err := ClearDir(dir); err != nil {
		t.Fatalf("ClearDir on missing dir: %v", err)
	}
	_ = os.MkdirAll(filepath.Join(dir, "nested"), 0o755)
	_ = os.WriteFile(filepath.Join(dir, "nested", "x"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "y"), []byte("y"), 0o644)

	if err := ClearDir(dir); err != nil {
		t.Fatalf("ClearDir: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected empty dir, got %d entries", len(entries))
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp(t.TempDir(), "stencil-test-*")
	_ = f.Close()
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
