package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"notidrawer/internal/config"
	"notidrawer/internal/drawer"
	"notidrawer/internal/render/tray"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	body = strings.ReplaceAll(body, "$DIR", filepath.ToSlash(dir))
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const baseConfig = `{
  "logging": {"level": "error"},
  "storage": {"driver": "file", "path": "$DIR/store"},
  "persist": {"schedule": "@every 1h", "debounce": "50ms"},
  "ingest": {"enabled": true, "spool_dir": "$DIR/spool"}
}`

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAppIngestsPersistsAndRestores(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, baseConfig)

	a, err := New(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	spoolFile := filepath.Join(dir, "spool", "001.jsonl")
	lines := `{"op":"event","event":{"id":"e1","kind":"message","room_id":"!r","room_name":"Room","sender_name":"Bob","body":"hi"}}` + "\n" +
		`{"op":"event","event":{"id":"s1","kind":"simple","description":"Invite"}}` + "\n"
	if err := os.WriteFile(spoolFile, []byte(lines), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "spool ingestion", func() bool { return a.Drawer().Len() == 2 })

	snapshot := filepath.Join(dir, "store", drawer.SnapshotKey)
	waitFor(t, "debounced snapshot", func() bool {
		_, err := os.Stat(snapshot)
		return err == nil
	})

	tr, ok := a.renderer.(*tray.Tray)
	if !ok {
		t.Fatalf("renderer = %T, want *tray.Tray", a.renderer)
	}
	if _, ok := tr.Get("!r", drawer.SlotRoomMessages); !ok {
		t.Fatalf("room notification not shown: %+v", tr.Shown())
	}

	st, ok := a.Status().(Status)
	if !ok || st.Pending != 2 || st.Renderer != "log" || st.Storage != "file" {
		t.Fatalf("status = %+v", a.Status())
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(spoolFile); !os.IsNotExist(err) {
		t.Fatalf("spool file not consumed: %v", err)
	}

	b, err := New(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Stop(context.Background())
	if got := b.Drawer().Len(); got != 2 {
		t.Fatalf("restored %d events, want 2", got)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, `{"renderer": {"driver": "pigeon"}, "persist": {"schedule": "never"}}`)
	_, err := New(cfgPath)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"renderer.driver", "persist.schedule"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestApplyConfigHotAndRestartSections(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, `{"logging": {"level": "error"}}`)
	a, err := New(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Stop(context.Background())

	oldCfg := a.cfgm.Get()
	newCfg, err := config.Decode("config.json", []byte(`{
	  "logging": {"level": "error"},
	  "persist": {"schedule": "@every 5m", "debounce": "0s"},
	  "attention": {"min_interval": "1s"},
	  "drawer": {"self_display_name": "Me"}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	a.applyConfig(context.Background(), oldCfg, newCfg)

	s := a.cur.Load()
	if s.PersistSchedule != "@every 5m" || s.PersistDebounce != 0 {
		t.Fatalf("persist not applied: %+v", s)
	}
	if s.Attention.MinInterval != time.Second {
		t.Fatalf("attention not applied: %+v", s.Attention)
	}
	// drawer settings need a restart.
	if s.SelfDisplayName != "" || a.Drawer().SelfName() != "" {
		t.Fatalf("self name applied without restart: %q", s.SelfDisplayName)
	}
	if a.persist.spec != "@every 5m" {
		t.Fatalf("cron spec = %q", a.persist.spec)
	}
}

func TestPersisterScheduleKeepsPreviousOnError(t *testing.T) {
	a, err := New(writeConfig(t, t.TempDir(), `{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Stop(context.Background())

	p := a.persist
	if err := p.Schedule(context.Background(), "@every 1m"); err != nil {
		t.Fatal(err)
	}
	first := p.entry
	if err := p.Schedule(context.Background(), "not a spec"); err == nil {
		t.Fatal("expected parse error")
	}
	if p.entry != first || p.spec != "@every 1m" {
		t.Fatalf("entry replaced on error: %v %q", p.entry, p.spec)
	}
	if err := p.Schedule(context.Background(), "*/5 * * * *"); err != nil {
		t.Fatal(err)
	}
	if p.entry == first || len(p.c.Entries()) != 1 {
		t.Fatalf("entries = %d", len(p.c.Entries()))
	}
}
