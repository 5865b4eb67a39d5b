package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	gosync "sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rjeczalik/notify"
)

// notifyBufferSize is the backend channel size. notify drops events when
// its channel is full, so this is larger than the watcher queue.
const notifyBufferSize = 256

// Subscription is a live set of filesystem watches. Events and Errors are
// owned by the subscription and closed by Close.
type Subscription interface {
	Events() <-chan RawEvent
	Errors() <-chan error
	Close() error
}

// Subscriber opens subscriptions: one recursive on root and one
// non-recursive on each ancestor.
type Subscriber interface {
	Subscribe(root string, ancestors []string) (Subscription, error)
}

// OSSubscriber watches the real filesystem. The root is watched recursively
// through rjeczalik/notify, which uses the platform's recursive facility
// where one exists. Ancestors are watched with fsnotify.
type OSSubscriber struct {
	Logger *slog.Logger
}

// Subscribe implements Subscriber.
func (s OSSubscriber) Subscribe(root string, ancestors []string) (Subscription, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sub := &osSubscription{
		events: make(chan RawEvent),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
		logger: logger,
	}

	sub.notifyCh = make(chan notify.EventInfo, notifyBufferSize)
	if err := notify.Watch(filepath.Join(root, "..."), sub.notifyCh, notify.All); err != nil {
		return nil, fmt.Errorf("watch: subscribing to %s: %w", root, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		notify.Stop(sub.notifyCh)
		return nil, fmt.Errorf("watch: creating ancestor watcher: %w", err)
	}

	sub.fsw = fw

	for _, a := range ancestors {
		if err := fw.Add(a); err != nil {
			// Some ancestors (/ on a locked-down host) cannot be watched.
			// The root liveness check still notices those moves.
			logger.Warn("cannot watch ancestor directory",
				slog.String("path", a),
				slog.String("error", err.Error()),
			)
		}
	}

	sub.wg.Add(2)

	go sub.pumpNotify()
	go sub.pumpFsnotify()

	logger.Debug("subscribed",
		slog.String("root", root),
		slog.Int("ancestors", len(ancestors)),
	)

	return sub, nil
}

type osSubscription struct {
	notifyCh chan notify.EventInfo
	fsw      *fsnotify.Watcher
	events   chan RawEvent
	errs     chan error
	done     chan struct{}
	wg       gosync.WaitGroup
	once     gosync.Once
	logger   *slog.Logger
}

func (s *osSubscription) Events() <-chan RawEvent { return s.events }
func (s *osSubscription) Errors() <-chan error    { return s.errs }

// Close stops both backends, waits for the pumps, and closes the channels.
func (s *osSubscription) Close() error {
	var err error

	s.once.Do(func() {
		close(s.done)
		notify.Stop(s.notifyCh)
		err = s.fsw.Close()
		s.wg.Wait()
		close(s.events)
		close(s.errs)
	})

	return err
}

func (s *osSubscription) send(ev RawEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *osSubscription) sendErr(err error) {
	select {
	case s.errs <- err:
	default:
		s.logger.Debug("dropping subscription error", slog.String("error", err.Error()))
	}
}

func (s *osSubscription) pumpNotify() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case ei := <-s.notifyCh:
			s.send(RawEvent{Path: ei.Path(), Op: fromNotify(ei.Event())})
		}
	}
}

func (s *osSubscription) pumpFsnotify() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.fsw.Events:
			if !ok {
				return
			}

			if op := fromFsnotify(ev.Op); op != 0 {
				s.send(RawEvent{Path: ev.Name, Op: op})
			}
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}

			if errors.Is(err, fsnotify.ErrEventOverflow) {
				err = fmt.Errorf("%w: %w", ErrOverflow, err)
			}

			s.sendErr(err)
		}
	}
}

func fromNotify(e notify.Event) Op {
	var op Op

	if e&notify.Create != 0 {
		op |= OpCreate
	}

	if e&notify.Write != 0 {
		op |= OpWrite
	}

	if e&notify.Remove != 0 {
		op |= OpRemove
	}

	if e&notify.Rename != 0 {
		op |= OpRename
	}

	return op
}

func fromFsnotify(o fsnotify.Op) Op {
	var op Op

	if o.Has(fsnotify.Create) {
		op |= OpCreate
	}

	if o.Has(fsnotify.Write) {
		op |= OpWrite
	}

	if o.Has(fsnotify.Remove) {
		op |= OpRemove
	}

	if o.Has(fsnotify.Rename) {
		op |= OpRename
	}

	return op
}
