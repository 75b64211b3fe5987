package auction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/upxmarket/auctionbot/auctionbot/database/models"
	"github.com/upxmarket/auctionbot/auctionbot/database/repositories"
)

const channelCacheSize = 1024

// Registry is the lifecycle state machine over auctions. The store is the
// source of truth; the channel cache only accelerates the "which auction is
// active in this channel" lookup and is invalidated on every transition away
// from active. Nothing that affects money reads the cache.
type Registry struct {
	repo  repositories.AuctionRepository
	cache *lru.Cache // channel id -> auction id
	group singleflight.Group
}

func NewRegistry(repo repositories.AuctionRepository) *Registry {
	cache, _ := lru.New(channelCacheSize)
	return &Registry{
		repo:  repo,
		cache: cache,
	}
}

// RegisterPending records a detected listing as a pending auction. It is
// idempotent: re-detection of the same listing fills in a missing end time
// and otherwise changes nothing.
func (r *Registry) RegisterPending(ctx context.Context, auctionID, channelID, messageID string, endTime *time.Time) error {
	auction := &models.Auction{
		AuctionID: auctionID,
		ChannelID: channelID,
		MessageID: messageID,
		EndTime:   endTime,
	}
	if endTime != nil {
		t := endTime.UTC()
		auction.EndTime = &t
	}

	if err := r.repo.UpsertPending(ctx, auction); err != nil {
		return fmt.Errorf("failed to register pending auction: %w", err)
	}

	slog.Debug("Registered pending auction",
		slog.String("auction_id", auctionID),
		slog.String("channel_id", channelID))
	return nil
}

// Activate transitions the auction to active and sets its end time.
// Activation owns the deadline, so re-activating with a corrected end time
// replaces the stored one; callers must reschedule alerts from the returned
// auction. Activating an ended or canceled auction fails with
// ErrInvalidTransition.
func (r *Registry) Activate(ctx context.Context, auctionID string, endTime time.Time) (*models.Auction, error) {
	auction, err := r.get(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if auction.Status == models.AuctionStatusEnded || auction.Status == models.AuctionStatusCanceled {
		return nil, fmt.Errorf("cannot activate %s auction %s: %w", auction.Status, auctionID, ErrInvalidTransition)
	}

	ok, err := r.repo.ActivateAuction(ctx, auctionID, endTime)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Raced with an end/cancel between the read and the update.
		return nil, fmt.Errorf("auction %s is no longer activatable: %w", auctionID, ErrInvalidTransition)
	}

	auction, err = r.get(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	r.cache.Add(auction.ChannelID, auction.AuctionID)

	slog.Info("Auction activated",
		slog.String("auction_id", auctionID),
		slog.String("channel_id", auction.ChannelID),
		slog.Time("end_time", endTime))
	return auction, nil
}

// GetActiveForChannel resolves the active auction id for a channel, cache
// first. Concurrent misses for the same channel collapse into one store
// query.
func (r *Registry) GetActiveForChannel(ctx context.Context, channelID string) (string, bool, error) {
	if v, ok := r.cache.Get(channelID); ok {
		return v.(string), true, nil
	}

	v, err, _ := r.group.Do(channelID, func() (interface{}, error) {
		// Waiters share this one flight; run it detached so a canceled first
		// caller cannot poison the result for the others.
		ctx := context.WithoutCancel(ctx)
		auction, err := r.repo.GetActiveForChannel(ctx, channelID)
		if err != nil {
			return nil, err
		}
		if auction == nil {
			return "", nil
		}
		r.cache.Add(channelID, auction.AuctionID)
		return auction.AuctionID, nil
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve active auction: %w", err)
	}

	auctionID := v.(string)
	return auctionID, auctionID != "", nil
}

// Get returns the auction or ErrNotFound.
func (r *Registry) Get(ctx context.Context, auctionID string) (*models.Auction, error) {
	return r.get(ctx, auctionID)
}

// End transitions an active auction to ended and drops its cache entry.
// Safe to call for auctions already past active.
func (r *Registry) End(ctx context.Context, auctionID string) (*models.Auction, error) {
	return r.transition(ctx, auctionID, models.AuctionStatusEnded)
}

// Cancel transitions a pending or active auction to canceled and drops its
// cache entry.
func (r *Registry) Cancel(ctx context.Context, auctionID string) (*models.Auction, error) {
	return r.transition(ctx, auctionID, models.AuctionStatusCanceled)
}

// Invalidate drops the cached channel mapping. Called when an auction
// transitions away from active outside the registry (e.g. the expiry sweep).
func (r *Registry) Invalidate(channelID string) {
	r.cache.Remove(channelID)
}

func (r *Registry) transition(ctx context.Context, auctionID string, to models.AuctionStatus) (*models.Auction, error) {
	auction, err := r.get(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	ok, err := r.repo.SetStatus(ctx, auctionID, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cannot move %s auction %s to %s: %w", auction.Status, auctionID, to, ErrInvalidTransition)
	}

	r.cache.Remove(auction.ChannelID)
	auction.Status = to

	slog.Info("Auction transitioned",
		slog.String("auction_id", auctionID),
		slog.String("status", string(to)))
	return auction, nil
}

func (r *Registry) get(ctx context.Context, auctionID string) (*models.Auction, error) {
	auction, err := r.repo.GetByAuctionID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return auction, nil
}
