package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/upxmarket/auctionbot/auctionbot/database/models"
	"github.com/upxmarket/auctionbot/auctionbot/database/repositories"
)

type AlertKind string

const (
	AlertHalfway  AlertKind = "halfway"
	AlertOneHour  AlertKind = "one_hour"
	AlertReminder AlertKind = "reminder"
)

const alertDispatchTimeout = 30 * time.Second

type scheduledAlert struct {
	kind     AlertKind
	timer    *time.Timer
	canceled chan struct{}
}

// Scheduler fires exactly-once, cancellable, time-relative alerts per
// auction. Its pending-timer set is not the source of truth: the persisted
// end times are, and Recover rebuilds the set from them after a restart.
type Scheduler struct {
	repo     repositories.AuctionRepository
	notifier Notifier
	now      func() time.Time

	mu     sync.Mutex
	alerts map[string]map[string]*scheduledAlert // auction id -> alert key

	reminderSeq atomic.Int64
	shutdown    chan struct{}
}

func NewScheduler(repo repositories.AuctionRepository, notifier Notifier) *Scheduler {
	return &Scheduler{
		repo:     repo,
		notifier: notifier,
		now:      time.Now,
		alerts:   make(map[string]map[string]*scheduledAlert),
		shutdown: make(chan struct{}),
	}
}

// alertTimes computes the halfway and one-hour fire times for an auction
// ending at end. ok is false when end is within one hour of now (or past):
// both alerts are moot then and nothing gets scheduled.
func alertTimes(now, end time.Time) (halfway, oneHour time.Time, ok bool) {
	if !end.After(now.Add(time.Hour)) {
		return time.Time{}, time.Time{}, false
	}
	return now.Add(end.Sub(now) / 2), end.Add(-time.Hour), true
}

// ScheduleAuctionAlerts schedules the halfway and one-hour alerts for the
// auction. Any pending alert of either kind is canceled and replaced, so
// re-activating with a corrected end time never double-fires.
func (s *Scheduler) ScheduleAuctionAlerts(a *models.Auction) {
	s.cancelKey(a.AuctionID, string(AlertHalfway))
	s.cancelKey(a.AuctionID, string(AlertOneHour))

	if a.EndTime == nil {
		return
	}

	halfway, oneHour, ok := alertTimes(s.now(), *a.EndTime)
	if !ok {
		slog.Debug("Auction ends within the hour, skipping alerts",
			slog.String("auction_id", a.AuctionID),
			slog.Time("end_time", *a.EndTime))
		return
	}

	auction := *a
	s.schedule(a.AuctionID, string(AlertHalfway), AlertHalfway, halfway, func(ctx context.Context) error {
		return s.notifier.NotifyHalfway(ctx, &auction)
	})
	s.schedule(a.AuctionID, string(AlertOneHour), AlertOneHour, oneHour, func(ctx context.Context) error {
		return s.notifier.NotifyOneHour(ctx, &auction)
	})

	slog.Info("Auction alerts scheduled",
		slog.String("auction_id", a.AuctionID),
		slog.Time("halfway", halfway),
		slog.Time("one_hour", oneHour))
}

// ScheduleReminder schedules a user-requested DM after the given offset.
// Reminders are unbounded per user; each gets its own key and they are only
// canceled in bulk by CancelAll.
func (s *Scheduler) ScheduleReminder(userID, auctionID string, after time.Duration) error {
	if after <= 0 {
		return ErrInvalidDuration
	}

	key := fmt.Sprintf("reminder-%s-%d", userID, s.reminderSeq.Add(1))
	s.schedule(auctionID, key, AlertReminder, s.now().Add(after), func(ctx context.Context) error {
		return s.notifier.NotifyReminder(ctx, userID, auctionID)
	})

	slog.Info("Reminder scheduled",
		slog.String("auction_id", auctionID),
		slog.String("user_id", userID),
		slog.Duration("after", after))
	return nil
}

// CancelAll cancels every pending alert for the auction. Safe to call when
// none are pending.
func (s *Scheduler) CancelAll(auctionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, alert := range s.alerts[auctionID] {
		alert.timer.Stop()
		close(alert.canceled)
	}
	delete(s.alerts, auctionID)
}

// Pending returns the kinds of alerts currently pending for the auction,
// sorted for stable output.
func (s *Scheduler) Pending(auctionID string) []AlertKind {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kinds []AlertKind
	for _, alert := range s.alerts[auctionID] {
		kinds = append(kinds, alert.kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Recover rebuilds the alert schedule from the store: every active auction
// with a future end time gets its alerts rescheduled. Run once on startup.
func (s *Scheduler) Recover(ctx context.Context) error {
	auctions, err := s.repo.GetActiveAuctions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active auctions: %w", err)
	}

	g, _ := errgroup.WithContext(ctx)
	for _, auction := range auctions {
		auction := auction
		g.Go(func() error {
			s.ScheduleAuctionAlerts(auction)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("Alert schedule recovered",
		slog.Int("auctions", len(auctions)))
	return nil
}

// Shutdown stops all pending timers. Alerts are not fired on shutdown; they
// come back through Recover on the next start.
func (s *Scheduler) Shutdown() {
	close(s.shutdown)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, byKey := range s.alerts {
		for _, alert := range byKey {
			alert.timer.Stop()
		}
	}
	s.alerts = make(map[string]map[string]*scheduledAlert)

	slog.Info("Alert scheduler shutdown completed")
}

func (s *Scheduler) schedule(auctionID, key string, kind AlertKind, at time.Time, fire func(context.Context) error) {
	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	entry := &scheduledAlert{
		kind:     kind,
		timer:    time.NewTimer(delay),
		canceled: make(chan struct{}),
	}

	s.mu.Lock()
	if existing, ok := s.alerts[auctionID][key]; ok {
		existing.timer.Stop()
		close(existing.canceled)
	}
	byKey, ok := s.alerts[auctionID]
	if !ok {
		byKey = make(map[string]*scheduledAlert)
		s.alerts[auctionID] = byKey
	}
	byKey[key] = entry
	s.mu.Unlock()

	go func() {
		select {
		case <-entry.timer.C:
			// A replacement may have raced the timer; only the entry still
			// registered under its key is allowed to fire.
			s.mu.Lock()
			current, ok := s.alerts[auctionID][key]
			if !ok || current != entry {
				s.mu.Unlock()
				return
			}
			delete(s.alerts[auctionID], key)
			if len(s.alerts[auctionID]) == 0 {
				delete(s.alerts, auctionID)
			}
			s.mu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), alertDispatchTimeout)
			defer cancel()
			if err := fire(ctx); err != nil {
				slog.Error("Failed to dispatch alert",
					slog.String("auction_id", auctionID),
					slog.String("kind", string(kind)),
					slog.String("error", err.Error()))
			}
		case <-entry.canceled:
		case <-s.shutdown:
		}
	}()
}

func (s *Scheduler) cancelKey(auctionID, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[auctionID][key]
	if !ok {
		return
	}
	alert.timer.Stop()
	close(alert.canceled)
	delete(s.alerts[auctionID], key)
	if len(s.alerts[auctionID]) == 0 {
		delete(s.alerts, auctionID)
	}
}
