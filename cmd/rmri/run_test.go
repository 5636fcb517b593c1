package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadItems(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "items.json")
	if err := os.WriteFile(path, []byte(`[{"id":"p1","title":"T","content":"abstract"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	items, err := readItems(path)
	if err != nil {
		t.Fatalf("readItems: %v", err)
	}
	if len(items) != 1 || items[0].ID != "p1" || items[0].Content != "abstract" {
		t.Fatalf("unexpected items: %+v", items)
	}

	bad := filepath.Join(dir, "bad.json")
	_ = os.WriteFile(bad, []byte(`{"id":"p1"}`), 0o644)
	if _, err := readItems(bad); err == nil {
		t.Fatal("expected error for non-array input")
	}
	if _, err := readItems(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, c := range []interface{ Name() string }{serveCMD(), migrateCMD(), runCMD(), watchCMD()} {
		if c.Name() == "" {
			t.Fatal("command without name")
		}
	}
	if f := runCMD().Flags().Lookup("max-iterations"); f == nil || f.DefValue != "0" {
		t.Fatalf("unexpected max-iterations flag: %+v", f)
	}
}
