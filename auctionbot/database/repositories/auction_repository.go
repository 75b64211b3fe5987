package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/upxmarket/auctionbot/auctionbot/database/models"
)

// AuctionRepository is the durable source of truth for auctions and bids.
// Methods that look up a single auction return sql.ErrNoRows (wrapped) when
// it does not exist; leader queries return (nil, nil) when there are no
// qualifying bids.
type AuctionRepository interface {
	DB() *bun.DB

	// UpsertPending records a detected listing. If the auction already
	// exists it only fills in a missing end time; it never regresses status
	// or overwrites an end time that is already set.
	UpsertPending(ctx context.Context, auction *models.Auction) error

	GetByAuctionID(ctx context.Context, auctionID string) (*models.Auction, error)

	// ActivateAuction marks the auction active and sets its end time.
	// Activation owns the deadline: a re-activation with a corrected end
	// time replaces the stored one. Returns false when the auction is
	// already ended or canceled.
	ActivateAuction(ctx context.Context, auctionID string, endTime time.Time) (bool, error)

	// SetStatus applies a forward-only transition. Returns false when the
	// auction is not in a status the transition is allowed from.
	SetStatus(ctx context.Context, auctionID string, to models.AuctionStatus) (bool, error)

	// GetActiveForChannel returns the most recently created active auction
	// in the channel.
	GetActiveForChannel(ctx context.Context, channelID string) (*models.Auction, error)

	// GetActiveAuctions returns all active auctions with an end time still
	// in the future, for alert recovery after a restart.
	GetActiveAuctions(ctx context.Context) ([]*models.Auction, error)

	// EndExpiredAuctions transitions every active auction whose end time
	// has passed to ended and returns them.
	EndExpiredAuctions(ctx context.Context) ([]*models.Auction, error)

	// CompareAndAppendBid atomically reads the current leader and appends
	// the bid when it strictly beats that leader. accepted reports whether
	// the bid was recorded; prevLeader is the leader observed inside the
	// same transaction (nil for a first bid). Concurrent calls for one
	// auction serialize on the auction row lock, so a rejected caller
	// always sees the amount that actually beat it.
	CompareAndAppendBid(ctx context.Context, auctionID, bidderID string, amount int64) (bid *models.Bid, prevLeader *models.Bid, accepted bool, err error)

	// TopBid returns the current leader: highest amount, earliest bid time
	// among equals, regardless of the auction deadline.
	TopBid(ctx context.Context, auctionID string) (*models.Bid, error)

	// TopBidBefore returns the leader among bids placed at or before
	// cutoff, with the same ordering. Bids recorded after the deadline can
	// never win retroactively.
	TopBidBefore(ctx context.Context, auctionID string, cutoff time.Time) (*models.Bid, error)

	GetAuctionBids(ctx context.Context, auctionID string) ([]*models.Bid, error)
}

// statusTransitions holds the statuses each transition may start from.
// pending → active → ended is forward-only; canceled is reachable from
// pending or active.
var statusTransitions = map[models.AuctionStatus][]models.AuctionStatus{
	models.AuctionStatusActive:   {models.AuctionStatusPending, models.AuctionStatusActive},
	models.AuctionStatusEnded:    {models.AuctionStatusActive},
	models.AuctionStatusCanceled: {models.AuctionStatusPending, models.AuctionStatusActive},
}

type auctionRepository struct {
	db *bun.DB
}

func NewAuctionRepository(db *bun.DB) AuctionRepository {
	return &auctionRepository{db: db}
}

func (r *auctionRepository) DB() *bun.DB {
	return r.db
}

func (r *auctionRepository) UpsertPending(ctx context.Context, auction *models.Auction) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	existing := new(models.Auction)
	err = tx.NewSelect().
		Model(existing).
		Where("auction_id = ?", auction.AuctionID).
		For("UPDATE").
		Scan(ctx)

	switch {
	case err == sql.ErrNoRows:
		auction.Status = models.AuctionStatusPending
		auction.CreatedAt = time.Now().UTC()
		auction.UpdatedAt = auction.CreatedAt
		if _, err := tx.NewInsert().Model(auction).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert pending auction: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to look up auction: %w", err)
	case existing.EndTime == nil && auction.EndTime != nil:
		_, err = tx.NewUpdate().
			Model((*models.Auction)(nil)).
			Set("end_time = ?", auction.EndTime).
			Set("updated_at = ?", time.Now().UTC()).
			Where("auction_id = ? AND end_time IS NULL", auction.AuctionID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to repair end time: %w", err)
		}
	default:
		// Duplicate detection with nothing to repair is a no-op.
	}

	return tx.Commit()
}

func (r *auctionRepository) GetByAuctionID(ctx context.Context, auctionID string) (*models.Auction, error) {
	auction := new(models.Auction)
	err := r.db.NewSelect().
		Model(auction).
		Where("auction_id = ?", auctionID).
		Scan(ctx)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return auction, nil
}

func (r *auctionRepository) ActivateAuction(ctx context.Context, auctionID string, endTime time.Time) (bool, error) {
	result, err := r.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("status = ?", models.AuctionStatusActive).
		Set("end_time = ?", endTime.UTC()).
		Set("updated_at = ?", time.Now().UTC()).
		Where("auction_id = ?", auctionID).
		Where("status IN (?)", bun.In(statusTransitions[models.AuctionStatusActive])).
		Exec(ctx)

	if err != nil {
		return false, fmt.Errorf("failed to activate auction: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

func (r *auctionRepository) SetStatus(ctx context.Context, auctionID string, to models.AuctionStatus) (bool, error) {
	from, ok := statusTransitions[to]
	if !ok {
		return false, fmt.Errorf("no transition into status %q", to)
	}

	result, err := r.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("auction_id = ?", auctionID).
		Where("status IN (?)", bun.In(from)).
		Exec(ctx)

	if err != nil {
		return false, fmt.Errorf("failed to set auction status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

func (r *auctionRepository) GetActiveForChannel(ctx context.Context, channelID string) (*models.Auction, error) {
	auction := new(models.Auction)
	err := r.db.NewSelect().
		Model(auction).
		Where("channel_id = ?", channelID).
		Where("status = ?", models.AuctionStatusActive).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active auction for channel: %w", err)
	}
	return auction, nil
}

func (r *auctionRepository) GetActiveAuctions(ctx context.Context) ([]*models.Auction, error) {
	var auctions []*models.Auction
	err := r.db.NewSelect().
		Model(&auctions).
		Where("status = ?", models.AuctionStatusActive).
		Where("end_time > ?", time.Now().UTC()).
		Order("created_at DESC").
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to get active auctions: %w", err)
	}
	return auctions, nil
}

func (r *auctionRepository) EndExpiredAuctions(ctx context.Context) ([]*models.Auction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var auctions []*models.Auction
	err = tx.NewSelect().
		Model(&auctions).
		Where("status = ?", models.AuctionStatusActive).
		Where("end_time IS NOT NULL AND end_time <= ?", time.Now().UTC()).
		For("UPDATE SKIP LOCKED").
		Order("end_time ASC").
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to get expired auctions: %w", err)
	}

	if len(auctions) > 0 {
		ids := make([]string, len(auctions))
		for i, auction := range auctions {
			ids[i] = auction.AuctionID
		}

		_, err = tx.NewUpdate().
			Model((*models.Auction)(nil)).
			Set("status = ?", models.AuctionStatusEnded).
			Set("updated_at = ?", time.Now().UTC()).
			Where("auction_id IN (?)", bun.In(ids)).
			Where("status = ?", models.AuctionStatusActive).
			Exec(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to bulk end expired auctions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return auctions, nil
}

func (r *auctionRepository) CompareAndAppendBid(ctx context.Context, auctionID, bidderID string, amount int64) (*models.Bid, *models.Bid, bool, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	// The row lock is the per-auction serialization boundary: racing
	// confirmations queue here and each sees the leader left by the one
	// before it.
	auction := new(models.Auction)
	err = tx.NewSelect().
		Model(auction).
		Where("auction_id = ?", auctionID).
		For("UPDATE").
		Scan(ctx)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, false, err
		}
		return nil, nil, false, fmt.Errorf("failed to lock auction: %w", err)
	}

	leader := new(models.Bid)
	err = tx.NewSelect().
		Model(leader).
		Where("auction_id = ?", auctionID).
		Order("amount DESC", "bid_time ASC").
		Limit(1).
		Scan(ctx)

	if err == sql.ErrNoRows {
		leader = nil
	} else if err != nil {
		return nil, nil, false, fmt.Errorf("failed to get current leader: %w", err)
	}

	if leader != nil && amount <= leader.Amount {
		return nil, leader, false, nil
	}

	now := time.Now().UTC()
	bid := &models.Bid{
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		BidTime:   now,
		CreatedAt: now,
	}
	if _, err := tx.NewInsert().Model(bid).Exec(ctx); err != nil {
		return nil, nil, false, fmt.Errorf("failed to record bid: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, false, fmt.Errorf("failed to commit bid: %w", err)
	}
	return bid, leader, true, nil
}

func (r *auctionRepository) TopBid(ctx context.Context, auctionID string) (*models.Bid, error) {
	bid := new(models.Bid)
	err := r.db.NewSelect().
		Model(bid).
		Where("auction_id = ?", auctionID).
		Order("amount DESC", "bid_time ASC").
		Limit(1).
		Scan(ctx)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get top bid: %w", err)
	}
	return bid, nil
}

func (r *auctionRepository) TopBidBefore(ctx context.Context, auctionID string, cutoff time.Time) (*models.Bid, error) {
	bid := new(models.Bid)
	err := r.db.NewSelect().
		Model(bid).
		Where("auction_id = ?", auctionID).
		Where("bid_time <= ?", cutoff.UTC()).
		Order("amount DESC", "bid_time ASC").
		Limit(1).
		Scan(ctx)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get final bid: %w", err)
	}
	return bid, nil
}

func (r *auctionRepository) GetAuctionBids(ctx context.Context, auctionID string) ([]*models.Bid, error) {
	var bids []*models.Bid
	err := r.db.NewSelect().
		Model(&bids).
		Where("auction_id = ?", auctionID).
		Order("amount DESC", "bid_time ASC").
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to get auction bids: %w", err)
	}
	return bids, nil
}
