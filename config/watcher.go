package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"k8s.io/klog"
)

// Watcher reloads the configuration whenever its file changes and hands
// every valid result to a callback. Invalid configurations are logged and
// skipped.
type Watcher struct {
	watcher  *fsnotify.Watcher
	loader   *Loader
	path     string
	onReload func(*Config)

	stopOnce sync.Once
	done     chan struct{}
}

func NewWatcher(loader *Loader, onReload func(*Config)) (*Watcher, error) {
	path, err := filepath.Abs(loader.FilePath())
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// watch the directory, not the file, to catch editors that replace it
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}
	return &Watcher{
		watcher:  w,
		loader:   loader,
		path:     path,
		onReload: onReload,
		done:     make(chan struct{}),
	}, nil
}

// Start blocks until Stop is called.
func (w *Watcher) Start() {
	klog.Infof("watching %s for changes", w.path)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				klog.V(4).Infof("config file %s changed: %s", event.Name, event.Op)
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			klog.Warningf("config watcher error: %v", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		klog.Warningf("reload config failed, keep the current one: %v", err)
		return
	}
	w.onReload(cfg)
}

func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}
