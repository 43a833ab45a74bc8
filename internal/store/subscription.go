package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/salesboard/internal/checksum"
	"github.com/starford/salesboard/internal/models"
)

// Subscription is the handle returned by Subscribe. Close it to stop
// deliveries; no new delivery starts after Close returns.
type Subscription struct {
	id     uint64
	fn     func([]models.Opportunity)
	store  *Store
	closed atomic.Bool
}

// Close unregisters the subscription. It is safe to call more than once.
func (sub *Subscription) Close() {
	if !sub.closed.CompareAndSwap(false, true) {
		return
	}
	sub.store.mu.Lock()
	delete(sub.store.subs, sub.id)
	sub.store.mu.Unlock()
}

// Subscribe registers fn to receive the full ordered collection. The
// current collection is delivered as soon as the change loop runs, then
// again after every change. A listing failure delivers an empty collection.
func (s *Store) Subscribe(fn func([]models.Opportunity)) *Subscription {
	s.mu.Lock()
	s.nextSub++
	sub := &Subscription{id: s.nextSub, fn: fn, store: s}
	s.subs[sub.id] = sub
	s.mu.Unlock()

	s.Notify()
	return sub
}

// Notify schedules a forced delivery to every subscriber. Multiple calls
// before the loop picks them up are coalesced.
func (s *Store) Notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

const watchDebounce = 150 * time.Millisecond

// Run is the change loop. It delivers snapshots after local writes, after
// writes to the watched database file, and on every poll tick when the
// collection changed. It returns when ctx is cancelled.
func (s *Store) Run(ctx context.Context) error {
	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if s.watchPath != "" {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		defer w.Close()
		dir := filepath.Dir(s.watchPath)
		if err := w.Add(dir); err != nil {
			return err
		}
		fsEvents, fsErrors = w.Events, w.Errors
		s.logger.Info("store: watching database file", slog.String("path", s.watchPath))
	}

	var tick <-chan time.Time
	if s.pollInterval > 0 {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	base := filepath.Base(s.watchPath)
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-s.changes:
			s.refresh(ctx, true)

		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			// Covers the database file and its -wal / -journal companions.
			if !strings.HasPrefix(filepath.Base(ev.Name), base) || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
				debounceCh = debounce.C
			} else {
				debounce.Reset(watchDebounce)
			}

		case <-debounceCh:
			s.refresh(ctx, false)

		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			s.logger.Error("store: watcher error", slog.String("error", err.Error()))

		case <-tick:
			s.refresh(ctx, false)
		}
	}
}

// refresh lists the collection and fans it out. Unforced refreshes are
// dropped when the collection is unchanged since the last delivery.
func (s *Store) refresh(ctx context.Context, force bool) {
	records, err := s.ListAll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("store: subscription list failed", slog.String("error", err.Error()))
		records = []models.Opportunity{}
		force = true
	}

	sum, sumErr := checksum.Of(records)
	if sumErr != nil {
		force = true
	}

	s.mu.Lock()
	if !force && sum == s.lastSum {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.lastSum = ""
	} else {
		s.lastSum = sum
	}
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if sub.closed.Load() {
			continue
		}
		sub.fn(cloneAll(records))
		s.metrics.Snapshot()
	}
}

func cloneAll(records []models.Opportunity) []models.Opportunity {
	out := slices.Clone(records)
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out
}
