package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chesno-labs/bankflow/internal/model"
	"github.com/chesno-labs/bankflow/internal/pipeline"
)

// Watcher monitors one intake directory. Filesystem events are coalesced
// through a debounce window; a periodic full scan backstops missed events.
type Watcher struct {
	Dir          string
	Patterns     []string
	Debounce     time.Duration
	PollInterval time.Duration

	store  *Store
	runlog *pipeline.RunLog
	log    *zap.Logger
}

// New creates a Watcher over the given intake directory.
func New(dir string, patterns []string, debounce, pollInterval time.Duration, store *Store, runlog *pipeline.RunLog) *Watcher {
	return &Watcher{
		Dir:          dir,
		Patterns:     patterns,
		Debounce:     debounce,
		PollInterval: pollInterval,
		store:        store,
		runlog:       runlog,
		log:          zap.L().With(zap.String("component", "watcher")),
	}
}

// Run watches until the context is cancelled. Each debounce flush and each
// poll tick runs one scan cycle recorded in the run log.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "watcher: create fsnotify watcher")
	}
	defer fw.Close()

	if err := fw.Add(w.Dir); err != nil {
		return eris.Wrapf(err, "watcher: watch dir %s", w.Dir)
	}

	w.log.Info("watching intake directory",
		zap.String("dir", w.Dir),
		zap.Duration("debounce", w.Debounce),
		zap.Duration("poll_interval", w.PollInterval),
	)

	// Startup scan picks up files that changed while the watcher was down.
	w.scanCycle(ctx)

	poll := time.NewTicker(w.PollInterval)
	defer poll.Stop()

	// pending holds paths touched since the last flush; the debounce timer
	// is armed on the first event and drained on flush.
	pending := make(map[string]struct{})
	debounce := time.NewTimer(w.Debounce)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			w.log.Info("watcher stopping")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return eris.New("watcher: event channel closed")
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if !w.matches(ev.Name) {
				continue
			}
			if len(pending) == 0 {
				debounce.Reset(w.Debounce)
			}
			pending[ev.Name] = struct{}{}

		case err, ok := <-fw.Errors:
			if !ok {
				return eris.New("watcher: error channel closed")
			}
			w.log.Warn("fsnotify error", zap.Error(err))

		case <-debounce.C:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			w.checkCycle(ctx, paths)

		case <-poll.C:
			w.scanCycle(ctx)
		}
	}
}

// ScanOnce runs a single directory scan and returns. Used for one-shot
// invocations where the event loop is not wanted.
func (w *Watcher) ScanOnce(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	w.scanCycle(ctx)
	return nil
}

// scanCycle walks the whole intake directory and checks every matching file.
func (w *Watcher) scanCycle(ctx context.Context) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		w.log.Warn("read intake dir failed", zap.Error(err))
		return
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		full := filepath.Join(w.Dir, e.Name())
		if w.matches(full) {
			paths = append(paths, full)
		}
	}
	w.checkCycle(ctx, paths)
}

// checkCycle checks the given paths against their checkpoints and enqueues
// import jobs for changed ones, recording the cycle in the run log.
func (w *Watcher) checkCycle(ctx context.Context, paths []string) {
	if len(paths) == 0 {
		return
	}

	var ref *pipeline.RunRef
	if w.runlog != nil {
		r, err := w.runlog.Start(ctx, "watcher")
		if err != nil {
			w.log.Warn("run log start failed", zap.Error(err))
		} else {
			ref = r
		}
	}

	enqueued := int64(0)
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		queued, err := w.checkFile(ctx, path)
		if err != nil {
			// Unreadable or mid-write files are retried on the next cycle.
			w.log.Warn("file check failed", zap.String("path", path), zap.Error(err))
			continue
		}
		if queued {
			enqueued++
			w.log.Info("import job enqueued", zap.String("path", path))
		}
	}

	if ref != nil {
		_ = w.runlog.Complete(ctx, ref.ID, &pipeline.RunResult{
			Items:    enqueued,
			Metadata: map[string]any{"checked": len(paths)},
		})
	}
}

// checkFile compares a file against its checkpoint and enqueues an import
// job when the content changed. Size and mtime gate the hash computation.
func (w *Watcher) checkFile(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, eris.Wrapf(err, "watcher: stat %s", path)
	}

	prev, err := w.store.FileState(ctx, path)
	if err != nil {
		return false, err
	}
	if prev != nil && prev.Size == info.Size() && prev.ModTime.Equal(info.ModTime()) {
		return false, nil
	}

	sum, err := hashFile(path)
	if err != nil {
		return false, eris.Wrapf(err, "watcher: hash %s", path)
	}
	if prev != nil && prev.SHA256 == sum {
		// Touched but unchanged. Refresh the checkpoint so the hash is not
		// recomputed every cycle.
		return false, w.store.SaveFileState(ctx, model.FileState{
			Path: path, Size: info.Size(), ModTime: info.ModTime(), SHA256: sum, Status: "seen",
		})
	}

	queued, err := w.store.EnqueueJob(ctx, path)
	if err != nil {
		return false, err
	}

	if err := w.store.SaveFileState(ctx, model.FileState{
		Path: path, Size: info.Size(), ModTime: info.ModTime(), SHA256: sum, Status: "queued",
	}); err != nil {
		return queued, err
	}
	return queued, nil
}

func (w *Watcher) matches(path string) bool {
	base := filepath.Base(path)
	for _, pat := range w.Patterns {
		if ok, _ := filepath.Match(pat, base); ok {
			return true
		}
	}
	return false
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
