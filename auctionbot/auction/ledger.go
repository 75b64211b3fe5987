package auction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/upxmarket/auctionbot/auctionbot/database/models"
	"github.com/upxmarket/auctionbot/auctionbot/database/repositories"
)

const sweepInterval = 30 * time.Second

// InboundMessage is a raw text event handed over by the chat collaborator.
type InboundMessage struct {
	ChannelID string
	MessageID string
	AuthorID  string
	Content   string
	CreatedAt time.Time
}

// ConfirmResult reports an accepted bid for the glue layer to render.
type ConfirmResult struct {
	// Bid is the newly recorded bid, now the current leader.
	Bid *models.Bid
	// PreviousLeader is the bid that was leading before this one, nil for a
	// first bid.
	PreviousLeader *models.Bid
	// OutbidNotified reports whether the previous leader held a watch and a
	// DM was dispatched for it.
	OutbidNotified bool
}

// Manager orchestrates the auction lifecycle, the bid ledger, outbid watches
// and the alert scheduler over one shared store.
type Manager struct {
	repo      repositories.AuctionRepository
	registry  *Registry
	watchers  *WatchRegistry
	scheduler *Scheduler
	notifier  Notifier

	sweepTicker *time.Ticker
	shutdown    chan struct{}
}

func NewManager(repo repositories.AuctionRepository, notifier Notifier) *Manager {
	if repo == nil {
		panic("auction repository cannot be nil")
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}

	return &Manager{
		repo:        repo,
		registry:    NewRegistry(repo),
		watchers:    NewWatchRegistry(),
		scheduler:   NewScheduler(repo, notifier),
		notifier:    notifier,
		sweepTicker: time.NewTicker(sweepInterval),
		shutdown:    make(chan struct{}),
	}
}

func (m *Manager) Registry() *Registry   { return m.registry }
func (m *Manager) Scheduler() *Scheduler { return m.scheduler }

// Start recovers the alert schedule from the store and begins the expiry
// sweep that moves past-deadline auctions to ended.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.scheduler.Recover(ctx); err != nil {
		return err
	}
	go m.runSweeper()
	return nil
}

// Shutdown stops the sweep and all pending alert timers.
func (m *Manager) Shutdown() {
	close(m.shutdown)
	m.sweepTicker.Stop()
	m.scheduler.Shutdown()
}

// HandleInboundMessage scans a raw chat message for an embedded deadline.
// On a hit it registers a pending auction keyed by the message id, schedules
// provisional alerts, and announces the detection. Reports whether the
// message was treated as a listing.
func (m *Manager) HandleInboundMessage(ctx context.Context, msg InboundMessage) (bool, error) {
	endTime, ok := Detect(msg.Content)
	if !ok {
		return false, nil
	}

	auctionID := msg.MessageID
	if err := m.registry.RegisterPending(ctx, auctionID, msg.ChannelID, msg.MessageID, &endTime); err != nil {
		return false, err
	}

	auction, err := m.registry.Get(ctx, auctionID)
	if err != nil {
		return false, err
	}

	// Provisional alerts are scheduled off the stored end time so a repair
	// through an earlier detection wins over this message's token.
	m.scheduler.ScheduleAuctionAlerts(auction)

	if err := m.notifier.NotifyDetected(ctx, auction, endTime); err != nil {
		slog.Error("Failed to announce detected auction",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()))
	}

	return true, nil
}

// RegisterPending records a listing without activating it.
func (m *Manager) RegisterPending(ctx context.Context, auctionID, channelID, messageID string, endTime *time.Time) error {
	if err := m.registry.RegisterPending(ctx, auctionID, channelID, messageID, endTime); err != nil {
		return err
	}
	auction, err := m.registry.Get(ctx, auctionID)
	if err != nil {
		return err
	}
	m.scheduler.ScheduleAuctionAlerts(auction)
	return nil
}

// Activate transitions a registered auction to active and reschedules its
// alerts against the (possibly corrected) end time.
func (m *Manager) Activate(ctx context.Context, auctionID string, endTime time.Time) (*models.Auction, error) {
	auction, err := m.registry.Activate(ctx, auctionID, endTime)
	if err != nil {
		return nil, err
	}
	m.scheduler.ScheduleAuctionAlerts(auction)
	return auction, nil
}

// TrackAuction registers (if needed) and activates an auction in one step,
// for callers that confirm a listing directly from its message.
func (m *Manager) TrackAuction(ctx context.Context, auctionID, channelID, messageID string, endTime time.Time) (*models.Auction, error) {
	if err := m.registry.RegisterPending(ctx, auctionID, channelID, messageID, &endTime); err != nil {
		return nil, err
	}
	return m.Activate(ctx, auctionID, endTime)
}

// ConfirmBid validates and records one bid. The leader read and the bid
// append happen in a single store transaction, so confirmations racing on
// the same auction serialize and a rejection always quotes the amount that
// actually beat it. On success the previous leader's outbid watch, if any,
// is consumed and a DM dispatched best-effort.
func (m *Manager) ConfirmBid(ctx context.Context, bidderID string, amount int64, auctionID string) (*ConfirmResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	bid, prevLeader, accepted, err := m.repo.CompareAndAppendBid(ctx, auctionID, bidderID, amount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("auction %s: %w", auctionID, ErrAuctionNotRegistered)
		}
		return nil, err
	}
	if !accepted {
		return nil, &BidTooLowError{Offered: amount, Leading: prevLeader.Amount}
	}

	result := &ConfirmResult{Bid: bid, PreviousLeader: prevLeader}

	if prevLeader != nil && m.watchers.Consume(auctionID, prevLeader.BidderID) {
		// The watch is consumed either way; delivery is best-effort and a
		// closed DM inbox must not surface to the bidder.
		if err := m.notifier.NotifyOutbid(ctx, prevLeader.BidderID, bid); err != nil {
			slog.Error("Failed to send outbid notification",
				slog.String("auction_id", auctionID),
				slog.String("user_id", prevLeader.BidderID),
				slog.String("error", err.Error()))
		} else {
			result.OutbidNotified = true
		}
	}

	slog.Info("Bid confirmed",
		slog.String("auction_id", auctionID),
		slog.String("bidder_id", bidderID),
		slog.Int64("amount", amount))
	return result, nil
}

// CurrentLeader returns the highest, earliest bid so far, regardless of the
// auction deadline. Nil when the auction has no bids yet.
func (m *Manager) CurrentLeader(ctx context.Context, auctionID string) (*models.Bid, error) {
	if _, err := m.registry.Get(ctx, auctionID); err != nil {
		return nil, err
	}
	return m.repo.TopBid(ctx, auctionID)
}

// FinalLeader returns the winner: the leader among bids placed at or before
// the auction's end time. Late bids are stored but can never win. Nil when
// no bid qualifies.
func (m *Manager) FinalLeader(ctx context.Context, auctionID string) (*models.Bid, error) {
	auction, err := m.registry.Get(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if auction.EndTime == nil {
		return nil, fmt.Errorf("auction %s: %w", auctionID, ErrNoEndTime)
	}
	return m.repo.TopBidBefore(ctx, auctionID, *auction.EndTime)
}

// Watch registers userID for a one-shot outbid DM on the auction.
func (m *Manager) Watch(ctx context.Context, auctionID, userID string) error {
	if _, err := m.registry.Get(ctx, auctionID); err != nil {
		return err
	}
	m.watchers.Watch(auctionID, userID)
	return nil
}

// SetReminder schedules a user-requested DM after the given offset.
func (m *Manager) SetReminder(userID, auctionID string, after time.Duration) error {
	return m.scheduler.ScheduleReminder(userID, auctionID, after)
}

// GetActiveForChannel resolves which auction is currently being bid on in a
// channel.
func (m *Manager) GetActiveForChannel(ctx context.Context, channelID string) (string, bool, error) {
	return m.registry.GetActiveForChannel(ctx, channelID)
}

// Get returns the stored auction or ErrNotFound.
func (m *Manager) Get(ctx context.Context, auctionID string) (*models.Auction, error) {
	return m.registry.Get(ctx, auctionID)
}

// End closes an auction explicitly and cancels its pending alerts.
func (m *Manager) End(ctx context.Context, auctionID string) (*models.Auction, error) {
	auction, err := m.registry.End(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	m.scheduler.CancelAll(auctionID)
	return auction, nil
}

// Cancel voids an auction and cancels its pending alerts.
func (m *Manager) Cancel(ctx context.Context, auctionID string) (*models.Auction, error) {
	auction, err := m.registry.Cancel(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	m.scheduler.CancelAll(auctionID)
	return auction, nil
}

func (m *Manager) runSweeper() {
	for {
		select {
		case <-m.sweepTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := m.sweepExpired(ctx); err != nil {
				slog.Error("Failed to sweep expired auctions",
					slog.String("error", err.Error()))
			}
			cancel()
		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) sweepExpired(ctx context.Context) error {
	ended, err := m.repo.EndExpiredAuctions(ctx)
	if err != nil {
		return err
	}

	for _, auction := range ended {
		m.registry.Invalidate(auction.ChannelID)
		m.scheduler.CancelAll(auction.AuctionID)
		slog.Info("Auction ended by deadline",
			slog.String("auction_id", auction.AuctionID),
			slog.String("channel_id", auction.ChannelID))
	}
	return nil
}
