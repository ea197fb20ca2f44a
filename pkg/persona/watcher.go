package persona

import (
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDuration = 200 * time.Millisecond

// Watcher reloads a Library when its directory changes on disk. Rapid
// bursts of file events collapse into one reload via debouncing.
type Watcher struct {
	watcher  *fsnotify.Watcher
	library  *Library
	onReload func()
	stop     chan struct{}
}

// Watch starts watching the library's directory. onReload, if non-nil, is
// called after each successful reload.
func Watch(l *Library, onReload func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(l.dir); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{watcher: fw, library: l, onReload: onReload, stop: make(chan struct{})}
	go w.run()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounceDuration)

		case <-timer.C:
			if errs := w.library.Reload(); len(errs) > 0 {
				for _, err := range errs {
					log.Printf("persona: reload: %v", err)
				}
			}
			if w.onReload != nil {
				w.onReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("persona: watcher error: %v", err)

		case <-w.stop:
			return
		}
	}
}
