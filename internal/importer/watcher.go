package importer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// settleDelay gives the writer time to finish before a dropped file is read.
const settleDelay = 250 * time.Millisecond

// Watcher imports statement files dropped into a directory. A file named
// <bank-account-id>_anything.csv routes to that account; anything else goes
// to the configured fallback account. Imported files move to processed/,
// failing files stay put for the operator.
type Watcher struct {
	svc      *Service
	dir      string
	format   string
	fallback uuid.UUID
	log      *slog.Logger
}

func NewWatcher(svc *Service, dir, format string, fallback uuid.UUID, log *slog.Logger) *Watcher {
	return &Watcher{svc: svc, dir: dir, format: format, fallback: fallback, log: log}
}

// Run watches until ctx is done. Files already in the directory at startup
// are imported first.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating watch dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.log.Info("statement watcher started", "dir", w.dir, "format", w.format)

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !strings.HasSuffix(strings.ToLower(ev.Name), ".csv") {
				continue
			}
			time.Sleep(settleDelay)
			w.process(ctx, filepath.Base(ev.Name))
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("statement watcher error", "error", err)
		}
	}
}

// sweep imports whatever is already waiting.
func (w *Watcher) sweep(ctx context.Context) {
	files, err := Scan(w.dir)
	if err != nil {
		w.log.Error("scanning watch dir", "error", err)
		return
	}
	for _, f := range files {
		w.process(ctx, f.Name)
	}
}

func (w *Watcher) process(ctx context.Context, name string) {
	path := filepath.Join(w.dir, name)
	if _, err := os.Stat(path); err != nil {
		// Already moved by an earlier event for the same file.
		return
	}
	accountID, ok := w.accountFor(name)
	if !ok {
		w.log.Warn("no bank account for statement file", "file", name)
		return
	}
	res, err := w.svc.ImportFile(ctx, accountID, w.format, path)
	if err != nil {
		w.log.Error("statement import failed", "file", name, "error", err)
		return
	}
	if err := MarkProcessed(w.dir, name); err != nil {
		w.log.Error("moving processed statement", "file", name, "error", err)
		return
	}
	w.log.Info("statement file processed",
		"file", name, "imported", res.Imported, "duplicates", res.Duplicates)
}

// accountFor routes by the uuid prefix of the file name, falling back to the
// configured default account.
func (w *Watcher) accountFor(name string) (uuid.UUID, bool) {
	if len(name) > 36 && name[36] == '_' {
		if id, err := uuid.Parse(name[:36]); err == nil {
			return id, true
		}
	}
	if w.fallback != uuid.Nil {
		return w.fallback, true
	}
	return uuid.Nil, false
}
