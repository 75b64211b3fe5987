package auction

import (
	"context"
	"time"

	"github.com/upxmarket/auctionbot/auctionbot/database/models"
)

// Notifier delivers auction notifications to the chat platform. The engine
// treats delivery as best-effort: a failed send is logged and swallowed, it
// never blocks or rolls back the state change that triggered it.
//
// Implementations own the user-facing wording and any platform affordances
// (mentions, jump links). The engine only decides when to notify and whom.
type Notifier interface {
	// NotifyDetected announces a freshly detected listing in its channel so
	// users can confirm tracking it.
	NotifyDetected(ctx context.Context, a *models.Auction, endTime time.Time) error

	// NotifyHalfway announces the halfway point in the auction's channel.
	NotifyHalfway(ctx context.Context, a *models.Auction) error

	// NotifyOneHour announces one hour remaining in the auction's channel.
	NotifyOneHour(ctx context.Context, a *models.Auction) error

	// NotifyOutbid DMs userID that newBid superseded their bid.
	NotifyOutbid(ctx context.Context, userID string, newBid *models.Bid) error

	// NotifyReminder DMs userID the reminder they asked for.
	NotifyReminder(ctx context.Context, userID, auctionID string) error
}

// NopNotifier discards every notification. Useful for tools that drive the
// engine without a chat connection.
type NopNotifier struct{}

func (NopNotifier) NotifyDetected(context.Context, *models.Auction, time.Time) error { return nil }
func (NopNotifier) NotifyHalfway(context.Context, *models.Auction) error             { return nil }
func (NopNotifier) NotifyOneHour(context.Context, *models.Auction) error             { return nil }
func (NopNotifier) NotifyOutbid(context.Context, string, *models.Bid) error          { return nil }
func (NopNotifier) NotifyReminder(context.Context, string, string) error             { return nil }
