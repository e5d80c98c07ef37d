package storage

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	logx "notidrawer/pkg/logx"
)

func openBoth(t *testing.T) map[string]Snapshotter {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Snapshotter{}
	for name, cfg := range map[string]Config{
		"file":   {Driver: "file", Path: filepath.Join(dir, "blobs")},
		"sqlite": {Driver: "sqlite", Path: filepath.Join(dir, "db", "drawer.db")},
	} {
		st, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s): %v", name, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[name] = st
	}
	return out
}

func TestSnapshotterLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, st := range openBoth(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			if _, err := st.Load(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Load missing: err = %v, want ErrNotFound", err)
			}
			if err := st.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete missing: %v", err)
			}
			if err := st.Save(ctx, "k", []byte("one")); err != nil {
				t.Fatalf("Save: %v", err)
			}
			if err := st.Save(ctx, "k", []byte("two")); err != nil {
				t.Fatalf("Save overwrite: %v", err)
			}
			got, err := st.Load(ctx, "k")
			if err != nil || !bytes.Equal(got, []byte("two")) {
				t.Fatalf("Load = %q, %v", got, err)
			}
			if err := st.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := st.Load(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Load after delete: err = %v", err)
			}
		})
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path accepted")
	}
}

func TestFileStoreRejectsPathKeys(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	for _, key := range []string{"", "..", "a/b", `a\b`} {
		if err := st.Save(context.Background(), key, []byte("x")); err == nil {
			t.Fatalf("Save(%q) accepted", key)
		}
	}
}

func TestFileStoreClosed(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = st.Close()
	if err := st.Save(context.Background(), "k", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("Save after close: err = %v, want ErrClosed", err)
	}
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "drawer.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Save(ctx, "k", []byte("kept")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = st.Close()

	st, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	got, err := st.Load(ctx, "k")
	if err != nil || string(got) != "kept" {
		t.Fatalf("Load = %q, %v", got, err)
	}
}
