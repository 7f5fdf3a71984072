package policy

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const debounceInterval = 500 * time.Millisecond

type ChangeHandler func(path string)

// FileWatcher calls its handler when the watched file is written or
// recreated. The parent directory is watched so that editors replacing the
// file through a rename are still noticed.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	dir     string
	file    string
	handler ChangeHandler
	done    chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

func NewFileWatcher(dir, file string, handler ChangeHandler) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch directory: %w", err)
	}

	fw := &FileWatcher{
		watcher: watcher,
		dir:     dir,
		file:    file,
		handler: handler,
		done:    make(chan struct{}),
	}

	go fw.watch()

	return fw, nil
}

func (fw *FileWatcher) Close() error {
	close(fw.done)

	fw.mu.Lock()
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.mu.Unlock()

	return fw.watcher.Close()
}

func (fw *FileWatcher) watch() {
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if fw.shouldHandle(event) {
				fw.schedule(event.Name)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("watcher error")

		case <-fw.done:
			return
		}
	}
}

func (fw *FileWatcher) shouldHandle(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	return filepath.Base(event.Name) == fw.file
}

// schedule debounces bursts of events into one handler call.
func (fw *FileWatcher) schedule(path string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.timer = time.AfterFunc(debounceInterval, func() {
		select {
		case <-fw.done:
			return
		default:
		}
		fw.handler(path)
	})
}
