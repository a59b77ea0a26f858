package ircdconfig

import (
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/nerion-net/ircd/ircdlog"
)

// Watcher holds the live configuration and atomically swaps it when
// the backing file or conf.d directory changes. REHASH (triggered
// by an oper command) and the filesystem watch both funnel through
// Reload, so the two mechanisms can't race each other's result.
type Watcher struct {
	path      string
	confdPath string
	log       *ircdlog.Logger

	live atomic.Pointer[ServerConfig]

	fsw  *fsnotify.Watcher
	done chan struct{}
}

// NewWatcher loads the initial configuration and arms an fsnotify
// watch on both the base file and the conf.d directory (if set).
func NewWatcher(path, confdPath string, log *ircdlog.Logger) (*Watcher, error) {
	cfg, err := Load(path, confdPath)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	if confdPath != `` {
		// conf.d may not exist yet; a missing directory isn't fatal
		// since LoadConfigOverlays already tolerates that at load time.
		_ = fsw.Add(confdPath)
	}
	w := &Watcher{path: path, confdPath: confdPath, log: log, fsw: fsw, done: make(chan struct{})}
	w.live.Store(cfg)
	go w.run()
	return w, nil
}

// Config returns the currently active configuration. Safe for
// concurrent use; callers should re-fetch rather than cache it across
// a REHASH boundary.
func (w *Watcher) Config() *ServerConfig {
	return w.live.Load()
}

// Reload re-parses the config from disk and, if it validates, swaps
// the live pointer. A failed reload leaves the previous configuration
// in place and returns the error so callers (REHASH, the fsnotify
// loop) can report it without taking the server down.
func (w *Watcher) Reload() error {
	cfg, err := Load(w.path, w.confdPath)
	if err != nil {
		if w.log != nil {
			w.log.Errorf("config reload failed", ircdlog.KV("path", w.path), ircdlog.ErrField(err))
		}
		return err
	}
	w.live.Store(cfg)
	if w.log != nil {
		w.log.Infof("config reloaded", ircdlog.KV("path", w.path))
	}
	return nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			_ = w.Reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Warnf("config watcher error", ircdlog.ErrField(err))
			}
		case <-w.done:
			return
		}
	}
}

// Close stops the filesystem watch.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
