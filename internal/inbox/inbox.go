// Package inbox watches a drop folder and schedules every PDF written to it
// for ingestion.
//
// A file named "<document_id>_<anything>.pdf" is ingested under that
// document id; any other PDF uses its base name without extension. Files are
// consumed: the ingestion run removes them once processed.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/efebarandurmaz/docintel/internal/ingest"
)

// DefaultDebounce is how long a file must stay quiet before it is submitted.
const DefaultDebounce = 2 * time.Second

// Watcher submits PDFs that appear in a directory to a Scheduler.
type Watcher struct {
	dir       string
	scheduler ingest.Scheduler
	debounce  time.Duration
	logger    *slog.Logger

	fs        *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu        sync.Mutex
	pending   map[string]*time.Timer
	submitted map[string]string // path -> job id
}

// Option configures a Watcher.
type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a watcher for dir. Call Start to begin watching.
func New(dir string, scheduler ingest.Scheduler, opts ...Option) *Watcher {
	w := &Watcher{
		dir:       dir,
		scheduler: scheduler,
		debounce:  DefaultDebounce,
		logger:    slog.Default(),
		done:      make(chan struct{}),
		pending:   make(map[string]*time.Timer),
		submitted: make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start creates the directory if needed, schedules PDFs already present and
// watches for new ones until ctx ends or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating inbox dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.fs = fw

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		fw.Close()
		return fmt.Errorf("reading inbox dir: %w", err)
	}
	for _, e := range entries {
		path := filepath.Join(w.dir, e.Name())
		if !e.IsDir() && isCandidate(path) {
			w.schedule(ctx, path)
		}
	}

	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.Info("Watching inbox", "dir", w.dir, "debounce", w.debounce)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleFsEvent(ctx, ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Inbox watcher error", "dir", w.dir, "error", err)
		}
	}
}

// handleFsEvent reacts to one notification and reports whether the path was
// scheduled for submission.
func (w *Watcher) handleFsEvent(ctx context.Context, ev fsnotify.Event) bool {
	path := ev.Name
	if !isCandidate(path) {
		return false
	}

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.forget(path)
		return false
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return false
	}
	w.schedule(ctx, path)
	return true
}

// schedule (re)starts the debounce timer for path. Paths already submitted
// are ignored until their file disappears.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.submitted[path]; ok {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() { w.submit(ctx, path) })
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
	delete(w.submitted, path)
}

func (w *Watcher) submit(ctx context.Context, path string) {
	w.mu.Lock()
	delete(w.pending, path)
	if _, ok := w.submitted[path]; ok {
		w.mu.Unlock()
		return
	}
	w.submitted[path] = ""
	w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}
	if _, err := os.Stat(path); err != nil {
		w.forget(path)
		return
	}

	documentID := DocumentID(path)
	jobID, err := w.scheduler.Submit(ctx, ingest.Request{DocumentID: documentID, PDFPath: path})
	if errors.Is(err, ingest.ErrQueueFull) {
		w.logger.Warn("Ingestion queue full, retrying inbox file", "path", path, "document_id", documentID, "retry_in", w.debounce)
		w.retry(ctx, path)
		return
	}
	if err != nil {
		w.logger.Error("Failed to schedule inbox file", "path", path, "document_id", documentID, "error", err)
		w.forget(path)
		return
	}

	w.mu.Lock()
	w.submitted[path] = jobID
	w.mu.Unlock()
	w.logger.Info("Inbox file scheduled", "path", path, "document_id", documentID, "job_id", jobID)
}

// retry re-arms the timer for a file the scheduler could not take yet. The
// file is still in the inbox and no further event may arrive for it.
func (w *Watcher) retry(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.submitted, path)
	select {
	case <-w.done:
		return
	default:
	}
	if _, ok := w.pending[path]; ok {
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() { w.submit(ctx, path) })
}

// Close stops watching. Pending debounce timers are discarded.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)

		w.mu.Lock()
		for path, t := range w.pending {
			t.Stop()
			delete(w.pending, path)
		}
		w.mu.Unlock()

		if w.fs != nil {
			err = w.fs.Close()
		}
		w.wg.Wait()
	})
	return err
}

// DocumentID derives the document id from an inbox file name.
func DocumentID(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if id, _, ok := strings.Cut(name, "_"); ok && id != "" {
		return id
	}
	return name
}

// isCandidate accepts visible files with a .pdf extension.
func isCandidate(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ".pdf")
}
