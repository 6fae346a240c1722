package importer

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher monitors an archive directory and triggers a re-import when its
// manifest or record files change. Bulk edits (unpacking an archive, saving
// from an editor) produce bursts of events, so triggers are debounced.
type Watcher struct {
	dir      string
	callback func(dir string)
	debounce time.Duration
	log      *zap.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a watcher for the archive directory. The callback runs
// on the watcher goroutine after the directory has been quiet for the
// debounce interval.
func NewWatcher(dir string, callback func(dir string), log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		dir:      dir,
		callback: callback,
		debounce: 500 * time.Millisecond,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start begins watching. Call Stop to clean up.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw

	go w.loop()
	w.log.Info("watching archive directory", zap.String("dir", w.dir))
	return nil
}

// Stop shuts down the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !relevant(evt) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C
		case <-timerCh:
			timerCh = nil
			w.log.Info("archive changed, re-importing", zap.String("dir", w.dir))
			w.callback(w.dir)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.Error(err))
		}
	}
}

// relevant reports whether the event touches a file the importer reads.
func relevant(evt fsnotify.Event) bool {
	if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return false
	}
	switch strings.ToLower(filepath.Ext(evt.Name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
