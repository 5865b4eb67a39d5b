package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// Defaults for Config zero values.
const (
	DefaultRestartBackoff = 10 * time.Second
	DefaultQueueSize      = 5
)

// Handler receives the watcher's work. Begin runs on every entry into
// Watching, after the subscriptions are live, so a catch-up walk done there
// misses nothing. Handle receives a burst of changed paths in arrival
// order, each once it has been quiet for the settle delay. An error from either aborts the pass; the watcher then restarts
// after the backoff.
type Handler interface {
	Begin(ctx context.Context, root string) error
	Handle(ctx context.Context, paths []string) error
}

// Config configures a Watcher.
type Config struct {
	Root           string
	RestartBackoff time.Duration // 0 means DefaultRestartBackoff
	QueueSize      int           // 0 means DefaultQueueSize
	// RootCheckInterval is how often the root's identity is compared with
	// the one seen at start. 0 disables the check.
	RootCheckInterval time.Duration
	// SettleDelay is how long a path must go without events before it is
	// handed to Handle. Every event restarts the path's window.
	SettleDelay time.Duration
}

// Watcher runs the watch state machine for one root.
type Watcher struct {
	cfg        Config
	subscriber Subscriber
	handler    Handler
	clock      clockwork.Clock
	logger     *slog.Logger

	// onState, if set, observes every transition. Tests use it.
	onState func(from, to State)
	// onNote, if set, observes every path entering the settle window.
	onNote func(path string)
}

// New creates a Watcher. A nil clock uses the real clock.
func New(cfg Config, subscriber Subscriber, handler Handler, clock clockwork.Clock, logger *slog.Logger) *Watcher {
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = DefaultRestartBackoff
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Watcher{
		cfg:        cfg,
		subscriber: subscriber,
		handler:    handler,
		clock:      clock,
		logger:     logger.With(slog.String("component", "watcher")),
	}
}

// generation is everything that lives from one Starting to the following
// Restarting. Nothing is shared between generations.
type generation struct {
	root   string
	info   os.FileInfo
	sub    Subscription
	queue  chan Event
	cancel context.CancelFunc
	group  *errgroup.Group

	// pending holds changed paths still inside their settle window,
	// ordered by due time.
	pending []pendingPath
}

type pendingPath struct {
	path string
	due  time.Time
}

// note (re)starts the settle window of path.
func (g *generation) note(path string, due time.Time) {
	g.pending = slices.DeleteFunc(g.pending, func(p pendingPath) bool { return p.path == path })
	g.pending = append(g.pending, pendingPath{path: path, due: due})
}

// settled removes and returns the pending paths due at now.
func (g *generation) settled(now time.Time) []string {
	var ready []string

	keep := g.pending[:0]

	for _, p := range g.pending {
		if p.due.After(now) {
			keep = append(keep, p)
			continue
		}

		ready = append(ready, p.path)
	}

	g.pending = keep

	return ready
}

// Run drives the state machine until ctx is canceled, which returns nil,
// or the watcher stops on an unrecoverable root, which returns an error
// wrapping ErrStopped.
func (w *Watcher) Run(ctx context.Context) error {
	var (
		state   = Starting
		gen     *generation
		backoff bool
		cause   error
	)

	defer func() {
		if gen != nil {
			w.teardown(gen)
		}
	}()

	for {
		var (
			in    Input
			burst []string
		)

		switch state {
		case Starting:
			if backoff {
				w.logger.Info("waiting before restart", slog.Duration("backoff", w.cfg.RestartBackoff))

				select {
				case <-ctx.Done():
					return nil
				case <-w.clock.After(w.cfg.RestartBackoff):
				}

				backoff = false
			}

			gen, in, cause = w.start(ctx)

		case Watching:
			in, burst = w.await(ctx, gen)

		case Restarting:
			w.teardown(gen)
			gen = nil
			in = InputTornDown

		case Stopped:
			return fmt.Errorf("%w: %w", ErrStopped, cause)
		}

		if ctx.Err() != nil {
			return nil
		}

		next, act := Next(state, in)

		if act == ActionForward {
			if err := w.handler.Handle(ctx, burst); err != nil {
				if ctx.Err() != nil {
					return nil
				}

				w.logger.Error("sync pass failed", slog.String("error", err.Error()))
				next, act = Next(next, InputPassFailed)
			}
		}

		if act == ActionBackoff {
			backoff = true
		}

		w.transition(state, next, in)
		state = next
	}
}

func (w *Watcher) transition(from, to State, in Input) {
	if from == to {
		return
	}

	w.logger.Info("watch state changed",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("input", in.String()),
	)

	if w.onState != nil {
		w.onState(from, to)
	}
}

// start canonicalizes the root, opens subscriptions and calls Begin.
func (w *Watcher) start(ctx context.Context) (*generation, Input, error) {
	root, info, err := Canonicalize(w.cfg.Root)
	if err != nil {
		if errors.Is(err, ErrNotDirectory) {
			w.logger.Error("sync root unusable", slog.String("error", err.Error()))
			return nil, InputConfigInvalid, err
		}

		w.logger.Warn("sync root unavailable", slog.String("root", w.cfg.Root), slog.String("error", err.Error()))

		return nil, InputStartFailed, err
	}

	ancestors := Ancestors(root)

	sub, err := w.subscriber.Subscribe(root, ancestors)
	if err != nil {
		w.logger.Warn("subscribing failed", slog.String("root", root), slog.String("error", err.Error()))
		return nil, InputStartFailed, err
	}

	gctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(gctx)

	gen := &generation{
		root:   root,
		info:   info,
		sub:    sub,
		queue:  make(chan Event, w.cfg.QueueSize),
		cancel: cancel,
		group:  group,
	}

	group.Go(func() error { return w.forward(gctx, gen, ancestors) })

	if w.cfg.RootCheckInterval > 0 {
		group.Go(func() error { return w.checkRoot(gctx, gen) })
	}

	if err := w.handler.Begin(ctx, root); err != nil {
		w.teardown(gen)

		if ctx.Err() == nil {
			w.logger.Error("starting sync failed", slog.String("root", root), slog.String("error", err.Error()))
		}

		return nil, InputStartFailed, err
	}

	w.logger.Info("watching", slog.String("root", root), slog.Int("ancestors", len(ancestors)))

	return gen, InputStartOK, nil
}

// forward classifies raw events and queues the relevant ones. It blocks
// when the queue is full.
func (w *Watcher) forward(ctx context.Context, gen *generation, ancestors []string) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case raw, ok := <-gen.sub.Events():
			if !ok {
				return nil
			}

			ev := Classify(gen.root, ancestors, raw)
			if ev.Kind == Ignored {
				continue
			}

			w.logger.Debug("watch event",
				slog.String("kind", ev.Kind.String()),
				slog.String("path", ev.Path),
				slog.String("op", raw.Op.String()),
			)

			if !w.enqueue(ctx, gen, ev) {
				return nil
			}

		case err, ok := <-gen.sub.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("subscription error", slog.String("error", err.Error()))

			// Lost events cannot be recovered in place; a rebuild walks the root.
			if errors.Is(err, ErrOverflow) {
				w.enqueue(ctx, gen, Event{Kind: PathMoved, Path: gen.root})
				return nil
			}
		}
	}
}

func (w *Watcher) enqueue(ctx context.Context, gen *generation, ev Event) bool {
	select {
	case gen.queue <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// checkRoot periodically confirms the root is still the directory seen at
// start. Unmounting and remounting a volume replaces it without any event
// on the ancestors.
func (w *Watcher) checkRoot(ctx context.Context, gen *generation) error {
	ticker := w.clock.NewTicker(w.cfg.RootCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			info, err := os.Stat(gen.root)
			if err == nil && info.IsDir() && os.SameFile(info, gen.info) {
				continue
			}

			w.logger.Warn("sync root changed identity", slog.String("root", gen.root))
			w.enqueue(ctx, gen, Event{Kind: PathMoved, Path: gen.root})

			return nil
		}
	}
}

// await collects events until at least one path has settled and returns
// the settled paths as one burst. A PathMoved anywhere wins over
// everything pending.
func (w *Watcher) await(ctx context.Context, gen *generation) (Input, []string) {
	for {
		now := w.clock.Now()

		if ready := gen.settled(now); len(ready) > 0 {
			return InputFileModified, ready
		}

		var (
			timer   clockwork.Timer
			settled <-chan time.Time
		)

		if len(gen.pending) > 0 {
			timer = w.clock.NewTimer(gen.pending[0].due.Sub(now))
			settled = timer.Chan()
		}

		in, more := w.collect(ctx, gen, settled)

		if timer != nil {
			timer.Stop()
		}

		if !more {
			return in, nil
		}
	}
}

// collect waits for the next event or for settled to fire, then drains
// whatever else is already queued. more is false when the wait ended the
// cycle, with in saying why.
func (w *Watcher) collect(ctx context.Context, gen *generation, settled <-chan time.Time) (in Input, more bool) {
	select {
	case <-ctx.Done():
		return InputIgnored, false
	case <-settled:
		return InputIgnored, true
	case ev := <-gen.queue:
		if !w.note(gen, ev) {
			return InputPathMoved, false
		}
	}

	for {
		select {
		case ev := <-gen.queue:
			if !w.note(gen, ev) {
				return InputPathMoved, false
			}
		default:
			return InputIgnored, true
		}
	}
}

// note adds ev to the settle window. It returns false for a PathMoved.
func (w *Watcher) note(gen *generation, ev Event) bool {
	if ev.Kind == PathMoved {
		w.logger.Info("sync root or ancestor moved", slog.String("path", ev.Path))
		return false
	}

	gen.note(ev.Path, w.clock.Now().Add(w.cfg.SettleDelay))

	if w.onNote != nil {
		w.onNote(ev.Path)
	}

	return true
}

// teardown cancels the generation, closes its subscription, waits for its
// goroutines and drops whatever was still queued or settling.
func (w *Watcher) teardown(gen *generation) int {
	gen.cancel()

	if err := gen.sub.Close(); err != nil {
		w.logger.Warn("closing subscription", slog.String("error", err.Error()))
	}

	_ = gen.group.Wait()

	discarded := len(gen.queue) + len(gen.pending)
	if discarded > 0 {
		w.logger.Info("discarded queued events", slog.Int("count", discarded))
	}

	return discarded
}
