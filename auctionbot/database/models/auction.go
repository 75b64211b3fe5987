package models

import (
	"time"

	"github.com/uptrace/bun"
)

type AuctionStatus string

const (
	AuctionStatusPending  AuctionStatus = "pending"
	AuctionStatusActive   AuctionStatus = "active"
	AuctionStatusEnded    AuctionStatus = "ended"
	AuctionStatusCanceled AuctionStatus = "canceled"
)

// Auction is a tracked listing. AuctionID is the id of the chat message the
// listing was posted in, which also serves as the user-facing auction id.
// EndTime stays nil while the auction is pending and the listing carried no
// parseable deadline.
type Auction struct {
	bun.BaseModel `bun:"table:auctions,alias:a"`

	ID        int64         `bun:"id,pk,autoincrement"`
	AuctionID string        `bun:"auction_id,notnull,unique"`
	ChannelID string        `bun:"channel_id"`
	MessageID string        `bun:"message_id"`
	EndTime   *time.Time    `bun:"end_time,nullzero"`
	Status    AuctionStatus `bun:"status,notnull,default:'pending'"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// Active reports whether the auction accepts bids.
func (a *Auction) Active() bool {
	return a.Status == AuctionStatusActive
}

// Bid is one recorded bid. Bids are append-only; a correction is a new bid.
type Bid struct {
	bun.BaseModel `bun:"table:bids,alias:b"`

	ID        int64     `bun:"id,pk,autoincrement"`
	AuctionID string    `bun:"auction_id,notnull"`
	BidderID  string    `bun:"bidder_id,notnull"`
	Amount    int64     `bun:"amount,notnull"`
	BidTime   time.Time `bun:"bid_time,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
