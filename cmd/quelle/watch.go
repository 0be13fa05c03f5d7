package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var (
	watchDebounce time.Duration
	watchInitial  bool
)

var watchCmd = &cobra.Command{
	Use:   "watch DIR",
	Short: "Ingest files as they are created or changed",
	Long: `Watches DIR and its subdirectories and uploads every file that is
created or written. The path relative to DIR becomes the document ID, so a
changed file replaces its earlier version. Removed files are deleted from
the dataset. Hidden files and directories are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "quiet period before a changed file is uploaded")
	watchCmd.Flags().BoolVar(&watchInitial, "initial", true, "upload existing files on start")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := newAPIClient()
	w := &watcher{
		root:     args[0],
		debounce: watchDebounce,
		upload: func(ctx context.Context, docID string, data []byte) error {
			res, err := c.ingest(ctx, dataset, docID, data, "")
			if err == nil {
				cmd.Printf("ingested %s (%d segments)\n", docID, res.Segments)
			}
			return err
		},
		remove: func(ctx context.Context, docID string) error {
			n, err := c.deleteDocument(ctx, dataset, docID)
			if err == nil {
				cmd.Printf("deleted %s (%d segments)\n", docID, n)
			}
			return err
		},
		logf: cmd.PrintErrf,
	}
	return w.run(ctx, watchInitial)
}

// watcher mirrors a directory tree into a dataset.
type watcher struct {
	root     string
	debounce time.Duration
	upload   func(ctx context.Context, docID string, data []byte) error
	remove   func(ctx context.Context, docID string) error
	logf     func(format string, args ...any)

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func (w *watcher) run(ctx context.Context, initial bool) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	w.pending = make(map[string]*time.Timer)
	err = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != w.root && hidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		if initial {
			w.schedule(ctx, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watching %s: %w", w.root, err)
	}

	for {
		select {
		case <-ctx.Done():
			w.stopPending()
			return nil
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logf("watch error: %v\n", err)
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fsw, ev)
		}
	}
}

func (w *watcher) handle(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if hidden(filepath.Base(ev.Name)) {
		return
	}
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if ev.Has(fsnotify.Create) {
				if err := fsw.Add(ev.Name); err != nil {
					w.logf("watching %s: %v\n", ev.Name, err)
				}
			}
			return
		}
		w.schedule(ctx, ev.Name)
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(ev.Name)
		docID, ok := w.documentID(ev.Name)
		if !ok {
			return
		}
		if err := w.remove(ctx, docID); err != nil {
			w.logf("deleting %s: %v\n", docID, err)
		}
	}
}

// schedule uploads path once no further event arrived for the debounce
// period. Editors often write a file in several steps.
func (w *watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
}

func (w *watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
}

func (w *watcher) ingest(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	docID, ok := w.documentID(path)
	if !ok {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		w.logf("reading %s: %v\n", path, err)
		return
	}
	if len(data) == 0 {
		return
	}
	if err := w.upload(ctx, docID, data); err != nil {
		w.logf("ingesting %s: %v\n", docID, err)
	}
}

// documentID is the slash separated path of path below the root.
func (w *watcher) documentID(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~")
}
