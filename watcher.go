package indexcache

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Op classifies a filesystem change event.
type Op uint8

const (
	OpCreated Op = iota
	OpModified
	OpDeleted
	OpMoved
)

// String returns a human-readable name for the operation.
func (op Op) String() string {
	switch op {
	case OpCreated:
		return "created"
	case OpModified:
		return "modified"
	case OpDeleted:
		return "deleted"
	case OpMoved:
		return "moved"
	}
	return "unknown"
}

// Event is a normalized filesystem change notification for a watched
// subtree. DestPath is set only for moves where the destination is known.
type Event struct {
	Op       Op
	Path     string
	DestPath string
	IsDir    bool
}

// EventSource delivers change notifications for subscribed subtrees.
// Watch subscribes a directory recursively; events for everything beneath
// it are sent on Events until the source is closed. Delivery is
// at-least-once with no ordering guarantee across subtrees.
type EventSource interface {
	Watch(root string) error
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// newFSEventSource is swapped out in tests.
var newFSEventSource = func() (EventSource, error) {
	return newFSNotifySource()
}

// fsnotifySource adapts fsnotify to the EventSource interface. fsnotify
// watches single directories, so Watch walks the subtree adding every
// directory, and newly created directories are added as they appear.
type fsnotifySource struct {
	watcher *fsnotify.Watcher
	events  chan Event
	errs    chan error

	closeOnce sync.Once
	done      chan struct{}
}

func newFSNotifySource() (*fsnotifySource, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	s := &fsnotifySource{
		watcher: watcher,
		events:  make(chan Event, 64),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Watch subscribes root and all directories beneath it.
func (s *fsnotifySource) Watch(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return s.watcher.Add(path)
		}
		return nil
	})
}

func (s *fsnotifySource) Events() <-chan Event { return s.events }

func (s *fsnotifySource) Errors() <-chan error { return s.errs }

func (s *fsnotifySource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.watcher.Close()
	})
	return err
}

func (s *fsnotifySource) run() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.forward(ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			select {
			case s.errs <- err:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

// forward normalizes a raw fsnotify event. A rename surfaces as a moved
// event for the old path; the destination arrives separately as a create.
// Chmod-only events carry no content change and are dropped.
func (s *fsnotifySource) forward(raw fsnotify.Event) {
	out := Event{Path: raw.Name}
	if info, err := os.Stat(raw.Name); err == nil {
		out.IsDir = info.IsDir()
	}

	switch {
	case raw.Op&fsnotify.Create != 0:
		out.Op = OpCreated
		if out.IsDir {
			// Keep the recursive subscription alive for new subtrees.
			_ = s.watcher.Add(raw.Name)
		}
	case raw.Op&fsnotify.Write != 0:
		out.Op = OpModified
	case raw.Op&fsnotify.Remove != 0:
		out.Op = OpDeleted
	case raw.Op&fsnotify.Rename != 0:
		out.Op = OpMoved
	default:
		return
	}

	select {
	case s.events <- out:
	case <-s.done:
	}
}
