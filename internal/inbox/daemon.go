package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ledgersync/expsync/internal/schema"
	expsync "github.com/ledgersync/expsync/internal/sync"
)

const (
	batchExt     = ".json"
	resultSuffix = ".result.json"
	doneExt      = ".done"
	failedExt    = ".failed"
)

// ErrInvalidBatch is returned for batch files that cannot be decoded or
// name no user.
var ErrInvalidBatch = errors.New("invalid batch file")

// Batch is the content of a file dropped into the inbox.
type Batch struct {
	UserID   string                 `json:"userId"`
	Expenses []schema.SyncOperation `json:"expenses"`
}

// Report is written next to a processed batch as <name>.result.json.
type Report struct {
	File        string           `json:"file"`
	UserID      string           `json:"userId,omitempty"`
	Results     []expsync.Result `json:"results,omitempty"`
	Summary     expsync.Summary  `json:"summary"`
	Error       string           `json:"error,omitempty"`
	ProcessedAt time.Time        `json:"processedAt"`
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a file must be quiet before it is
	// processed. Editors and copy tools often write a file in several steps.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[inbox] ", log.LstdFlags),
	}
}

// Daemon watches an inbox directory and reconciles batch files dropped
// into it.
type Daemon struct {
	reconciler expsync.Reconciler
	dir        string
	config     *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> last event
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon for dir. Use Start to begin watching.
func New(reconciler expsync.Reconciler, dir string, config *Config) (*Daemon, error) {
	if reconciler == nil {
		return nil, fmt.Errorf("reconciler cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("inbox dir cannot be empty")
	}

	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		reconciler:  reconciler,
		dir:         dir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start processes batches already waiting in the inbox, then watches for
// new ones. It blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting inbox daemon")

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create inbox directory: %w", err)
	}
	if err := d.watcher.Add(d.dir); err != nil {
		return fmt.Errorf("failed to watch inbox directory: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", d.dir)

	if err := d.ProcessPending(); err != nil {
		return fmt.Errorf("initial scan failed: %w", err)
	}

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping inbox daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Inbox daemon stopped")
	return nil
}

// ProcessPending processes every batch file currently in the inbox, oldest
// name first.
func (d *Daemon) ProcessPending() error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("failed to read inbox: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !isBatchFile(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(d.dir, e.Name()))
	}
	sort.Strings(paths)

	for _, path := range paths {
		if _, err := d.ProcessFile(d.ctx, path); err != nil {
			d.config.Logger.Printf("WARNING: %v", err)
		}
	}
	return nil
}

// ProcessFile reconciles one batch file, writes its report and renames the
// input to <name>.done, or <name>.failed when the file is not a valid batch.
func (d *Daemon) ProcessFile(ctx context.Context, path string) (*Report, error) {
	name := strings.TrimSuffix(path, batchExt)
	report := &Report{File: filepath.Base(path)}

	batch, err := readBatch(path)
	if err != nil {
		report.Error = err.Error()
		report.ProcessedAt = time.Now().UTC()
		if werr := writeReport(name+resultSuffix, report); werr != nil {
			return nil, werr
		}
		if rerr := os.Rename(path, name+failedExt); rerr != nil {
			return nil, fmt.Errorf("failed to rename %s: %w", path, rerr)
		}
		return report, err
	}

	d.config.Logger.Printf("Processing %s: %d operations for user %s", report.File, len(batch.Expenses), batch.UserID)

	report.UserID = batch.UserID
	report.Results = d.reconciler.Reconcile(ctx, batch.UserID, batch.Expenses)
	report.Summary = expsync.Summarize(report.Results)
	report.ProcessedAt = time.Now().UTC()

	if err := writeReport(name+resultSuffix, report); err != nil {
		return nil, err
	}
	if err := os.Rename(path, name+doneExt); err != nil {
		return nil, fmt.Errorf("failed to rename %s: %w", path, err)
	}

	d.config.Logger.Printf("Processed %s: %d successful, %d failed",
		report.File, report.Summary.Successful, report.Summary.Failed)
	return report, nil
}

// watchFileEvents monitors filesystem events and queues batch files.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isBatchFile(filepath.Base(event.Name)) {
				continue
			}
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue processes queued files once they have been quiet for
// the debounce interval.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			for _, path := range d.readyChanges() {
				if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
					continue
				}
				if _, err := d.ProcessFile(d.ctx, path); err != nil {
					d.config.Logger.Printf("WARNING: %v", err)
				}
			}
		}
	}
}

// readyChanges removes and returns the queued paths that are past the
// debounce interval.
func (d *Daemon) readyChanges() []string {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	sort.Strings(ready)
	return ready
}

func isBatchFile(name string) bool {
	return filepath.Ext(name) == batchExt &&
		!strings.HasSuffix(name, resultSuffix) &&
		!strings.HasPrefix(name, ".")
}

func readBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var batch Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidBatch, filepath.Base(path), err)
	}
	if batch.UserID == "" {
		return nil, fmt.Errorf("%w: %s: userId is required", ErrInvalidBatch, filepath.Base(path))
	}
	if batch.Expenses == nil {
		batch.Expenses = []schema.SyncOperation{}
	}
	return &batch, nil
}

// writeReport writes atomically so readers never see a partial report.
func writeReport(path string, report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
