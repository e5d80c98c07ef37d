// Package ingest feeds the drawer from a spool directory of newline-delimited
// JSON operation files.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"notidrawer/internal/drawer"
	logx "notidrawer/pkg/logx"
)

const (
	spoolExt       = ".jsonl"
	settleDelay    = 200 * time.Millisecond
	rescanInterval = 30 * time.Second
	maxLineBytes   = 1 << 20
)

var errLineTooLong = errors.New("spool line too long")

// Sink receives spool operations. *drawer.Manager satisfies it.
type Sink interface {
	OnEvent(ctx context.Context, ev drawer.Event, userID, userDisplayName string) error
	Refresh(ctx context.Context) drawer.Result
	ClearRoom(ctx context.Context, roomID string) drawer.Result
	ClearAll(ctx context.Context) drawer.Result
	SetFocusedRoom(ctx context.Context, roomID string)
	RetainMessagesOnly() int
}

// FileStats describes one processed spool file.
type FileStats struct {
	Applied int
	Skipped int
}

// Spool processes *.jsonl files in name order and removes them once applied.
// Writers should create files under another name and rename them into place.
type Spool struct {
	dir  string
	sink Sink
	log  logx.Logger
	now  func() time.Time

	mu sync.Mutex // serializes scans
}

func New(dir string, sink Sink, log logx.Logger) (*Spool, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("spool dir is empty")
	}
	if sink == nil {
		return nil, errors.New("spool sink is nil")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Spool{dir: dir, sink: sink, log: log, now: time.Now}, nil
}

func (s *Spool) Dir() string { return s.dir }

// Scan processes every pending spool file once and returns how many files it
// consumed.
func (s *Spool) Scan(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read spool dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), spoolExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	n := 0
	for _, name := range names {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		path := filepath.Join(s.dir, name)
		// Once read, a file is always removed: its ops may already have run.
		st, err := s.processFile(ctx, path)
		if err != nil {
			s.log.Warn("spool file unreadable", logx.String("file", name), logx.Err(err))
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("spool file not removed", logx.String("file", name), logx.Err(err))
		}
		n++
		s.log.Debug("spool file applied", logx.String("file", name), logx.Int("applied", st.Applied), logx.Int("skipped", st.Skipped))
	}
	return n, nil
}

// processFile applies the ops of one file. Events are batched: the drawer is
// refreshed once before any non-event op and once at the end. Lines longer
// than maxLineBytes are skipped. It only fails when the file cannot be read.
func (s *Spool) processFile(ctx context.Context, path string) (FileStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileStats{}, err
	}
	var (
		st      FileStats
		pending bool
	)
	flush := func() {
		if pending {
			s.sink.Refresh(ctx)
			pending = false
		}
	}

	lineNo := 0
	for rest := data; len(rest) > 0; {
		var line []byte
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line, rest = rest[:i], rest[i+1:]
		} else {
			line, rest = rest, nil
		}
		lineNo++
		if len(line) > maxLineBytes {
			st.Skipped++
			s.log.Warn("spool line skipped",
				logx.String("file", filepath.Base(path)),
				logx.Int("line", lineNo),
				logx.Int("bytes", len(line)),
				logx.Err(errLineTooLong),
			)
			continue
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		op, ev, err := ParseOp(line, s.now())
		if err != nil {
			st.Skipped++
			s.log.Warn("spool line skipped", logx.String("file", filepath.Base(path)), logx.Int("line", lineNo), logx.Err(err))
			continue
		}
		if op.Op == OpEvent {
			if err := s.sink.OnEvent(ctx, ev, op.UserID, op.UserDisplayName); err != nil {
				st.Skipped++
				continue
			}
			pending = true
			st.Applied++
			continue
		}

		flush()
		switch op.Op {
		case OpClearRoom:
			s.sink.ClearRoom(ctx, op.RoomID)
		case OpClearAll:
			s.sink.ClearAll(ctx)
		case OpFocus:
			s.sink.SetFocusedRoom(ctx, op.RoomID)
		case OpResume:
			s.sink.RetainMessagesOnly()
			s.sink.Refresh(ctx)
		case OpRefresh:
			s.sink.Refresh(ctx)
		}
		st.Applied++
	}
	flush()
	return st, nil
}

// Run scans the spool on start, after every change in the directory and
// periodically, until ctx is done.
func (s *Spool) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("spool watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("spool watch %s: %w", s.dir, err)
	}
	s.log.Info("spool ingestion started", logx.String("dir", s.dir))

	scan := func() {
		if _, err := s.Scan(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("spool scan failed", logx.Err(err))
		}
	}
	scan()

	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()
	rescan := time.NewTicker(rescanInterval)
	defer rescan.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("spool watcher closed")
			}
			if !strings.HasSuffix(ev.Name, spoolExt) || ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			settle.Reset(settleDelay)
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("spool watcher closed")
			}
			s.log.Warn("spool watch error", logx.Err(err))
			settle.Reset(settleDelay)
		case <-settle.C:
			scan()
		case <-rescan.C:
			scan()
		}
	}
}
