package auction

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/uptrace/bun"

	"github.com/upxmarket/auctionbot/auctionbot/database/models"
)

// memRepo is an in-memory AuctionRepository with the same contract as the
// postgres one: sql.ErrNoRows for missing auctions, (nil, nil) leaders when
// there are no qualifying bids, and compare-and-append serialized under one
// lock. now is swappable so tests can place bids around a deadline.
type memRepo struct {
	mu       sync.Mutex
	auctions map[string]*models.Auction
	bids     map[string][]*models.Bid
	now      func() time.Time
	nextID   int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		auctions: make(map[string]*models.Auction),
		bids:     make(map[string][]*models.Bid),
		now:      time.Now,
	}
}

var memTransitions = map[models.AuctionStatus][]models.AuctionStatus{
	models.AuctionStatusActive:   {models.AuctionStatusPending, models.AuctionStatusActive},
	models.AuctionStatusEnded:    {models.AuctionStatusActive},
	models.AuctionStatusCanceled: {models.AuctionStatusPending, models.AuctionStatusActive},
}

func (r *memRepo) DB() *bun.DB { return nil }

func (r *memRepo) UpsertPending(_ context.Context, auction *models.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.auctions[auction.AuctionID]
	if !ok {
		r.nextID++
		stored := *auction
		stored.ID = r.nextID
		stored.Status = models.AuctionStatusPending
		stored.CreatedAt = r.now().UTC()
		stored.UpdatedAt = stored.CreatedAt
		r.auctions[auction.AuctionID] = &stored
		return nil
	}
	if existing.EndTime == nil && auction.EndTime != nil {
		t := auction.EndTime.UTC()
		existing.EndTime = &t
		existing.UpdatedAt = r.now().UTC()
	}
	return nil
}

func (r *memRepo) GetByAuctionID(_ context.Context, auctionID string) (*models.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(auctionID)
}

func (r *memRepo) getLocked(auctionID string) (*models.Auction, error) {
	auction, ok := r.auctions[auctionID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *auction
	return &cp, nil
}

func (r *memRepo) ActivateAuction(_ context.Context, auctionID string, endTime time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	auction, ok := r.auctions[auctionID]
	if !ok || !statusIn(auction.Status, memTransitions[models.AuctionStatusActive]) {
		return false, nil
	}
	t := endTime.UTC()
	auction.Status = models.AuctionStatusActive
	auction.EndTime = &t
	auction.UpdatedAt = r.now().UTC()
	return true, nil
}

func (r *memRepo) SetStatus(_ context.Context, auctionID string, to models.AuctionStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	auction, ok := r.auctions[auctionID]
	if !ok || !statusIn(auction.Status, memTransitions[to]) {
		return false, nil
	}
	auction.Status = to
	auction.UpdatedAt = r.now().UTC()
	return true, nil
}

func (r *memRepo) GetActiveForChannel(_ context.Context, channelID string) (*models.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *models.Auction
	for _, auction := range r.auctions {
		if auction.ChannelID != channelID || auction.Status != models.AuctionStatusActive {
			continue
		}
		if latest == nil || auction.CreatedAt.After(latest.CreatedAt) {
			latest = auction
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *memRepo) GetActiveAuctions(_ context.Context) ([]*models.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Auction
	now := r.now()
	for _, auction := range r.auctions {
		if auction.Status != models.AuctionStatusActive || auction.EndTime == nil || !auction.EndTime.After(now) {
			continue
		}
		cp := *auction
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memRepo) EndExpiredAuctions(_ context.Context) ([]*models.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Auction
	now := r.now()
	for _, auction := range r.auctions {
		if auction.Status != models.AuctionStatusActive || auction.EndTime == nil || auction.EndTime.After(now) {
			continue
		}
		auction.Status = models.AuctionStatusEnded
		auction.UpdatedAt = now.UTC()
		cp := *auction
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memRepo) CompareAndAppendBid(_ context.Context, auctionID, bidderID string, amount int64) (*models.Bid, *models.Bid, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return nil, nil, false, sql.ErrNoRows
	}

	leader := r.leaderLocked(auctionID, nil)
	if leader != nil && amount <= leader.Amount {
		cp := *leader
		return nil, &cp, false, nil
	}

	r.nextID++
	now := r.now().UTC()
	bid := &models.Bid{
		ID:        r.nextID,
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		BidTime:   now,
		CreatedAt: now,
	}
	r.bids[auctionID] = append(r.bids[auctionID], bid)

	bidCp := *bid
	if leader == nil {
		return &bidCp, nil, true, nil
	}
	leaderCp := *leader
	return &bidCp, &leaderCp, true, nil
}

func (r *memRepo) TopBid(_ context.Context, auctionID string) (*models.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	leader := r.leaderLocked(auctionID, nil)
	if leader == nil {
		return nil, nil
	}
	cp := *leader
	return &cp, nil
}

func (r *memRepo) TopBidBefore(_ context.Context, auctionID string, cutoff time.Time) (*models.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	leader := r.leaderLocked(auctionID, &cutoff)
	if leader == nil {
		return nil, nil
	}
	cp := *leader
	return &cp, nil
}

func (r *memRepo) GetAuctionBids(_ context.Context, auctionID string) ([]*models.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Bid
	for _, bid := range r.bids[auctionID] {
		cp := *bid
		out = append(out, &cp)
	}
	return out, nil
}

// leaderLocked applies the ledger ordering: highest amount wins, earliest
// bid time breaks ties. cutoff, when set, excludes bids placed after it.
func (r *memRepo) leaderLocked(auctionID string, cutoff *time.Time) *models.Bid {
	var leader *models.Bid
	for _, bid := range r.bids[auctionID] {
		if cutoff != nil && bid.BidTime.After(*cutoff) {
			continue
		}
		if leader == nil ||
			bid.Amount > leader.Amount ||
			(bid.Amount == leader.Amount && bid.BidTime.Before(leader.BidTime)) {
			leader = bid
		}
	}
	return leader
}

func statusIn(s models.AuctionStatus, allowed []models.AuctionStatus) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

// recordNotifier records every dispatch and optionally signals a channel so
// timer tests can wait for a fire without sleeping.
type recordNotifier struct {
	mu        sync.Mutex
	detected  []string
	halfway   []string
	oneHour   []string
	outbid    []outbidCall
	reminders []reminderCall

	outbidErr error
	fired     chan AlertKind
}

type outbidCall struct {
	userID string
	amount int64
}

type reminderCall struct {
	userID    string
	auctionID string
}

func (n *recordNotifier) NotifyDetected(_ context.Context, a *models.Auction, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.detected = append(n.detected, a.AuctionID)
	return nil
}

func (n *recordNotifier) NotifyHalfway(_ context.Context, a *models.Auction) error {
	n.mu.Lock()
	n.halfway = append(n.halfway, a.AuctionID)
	n.mu.Unlock()
	n.signal(AlertHalfway)
	return nil
}

func (n *recordNotifier) NotifyOneHour(_ context.Context, a *models.Auction) error {
	n.mu.Lock()
	n.oneHour = append(n.oneHour, a.AuctionID)
	n.mu.Unlock()
	n.signal(AlertOneHour)
	return nil
}

func (n *recordNotifier) NotifyOutbid(_ context.Context, userID string, newBid *models.Bid) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.outbidErr != nil {
		return n.outbidErr
	}
	n.outbid = append(n.outbid, outbidCall{userID: userID, amount: newBid.Amount})
	return nil
}

func (n *recordNotifier) NotifyReminder(_ context.Context, userID, auctionID string) error {
	n.mu.Lock()
	n.reminders = append(n.reminders, reminderCall{userID: userID, auctionID: auctionID})
	n.mu.Unlock()
	n.signal(AlertReminder)
	return nil
}

func (n *recordNotifier) signal(kind AlertKind) {
	if n.fired != nil {
		n.fired <- kind
	}
}

func (n *recordNotifier) outbidCalls() []outbidCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]outbidCall(nil), n.outbid...)
}

func (n *recordNotifier) detectedIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.detected...)
}
