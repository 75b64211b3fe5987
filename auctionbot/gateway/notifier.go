package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"

	"github.com/upxmarket/auctionbot/auctionbot"
	"github.com/upxmarket/auctionbot/auctionbot/database/models"
	"github.com/upxmarket/auctionbot/auctionbot/logger"
)

// Notifier renders engine notifications as Discord messages. It implements
// auction.Notifier; the engine never sees Discord types.
type Notifier struct {
	mu      sync.RWMutex
	client  bot.Client
	guildID snowflake.ID
	cfg     auctionbot.AuctionConfig
}

func NewNotifier(guildID snowflake.ID, cfg auctionbot.AuctionConfig) *Notifier {
	return &Notifier{
		guildID: guildID,
		cfg:     cfg,
	}
}

// SetClient wires the Discord client once the gateway is constructed. The
// engine is built before the client, so notifications sent before this call
// fail and are swallowed upstream.
func (n *Notifier) SetClient(client bot.Client) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.client = client
}

func (n *Notifier) NotifyDetected(ctx context.Context, a *models.Auction, endTime time.Time) error {
	content := fmt.Sprintf(
		"🛎 Potential auction detected for message `%s` (ends <t:%d:R>). Confirm with `/track_auction %s`.",
		a.AuctionID, endTime.Unix(), a.AuctionID)
	return n.sendChannel(a.ChannelID, content)
}

func (n *Notifier) NotifyHalfway(ctx context.Context, a *models.Auction) error {
	mentions := roleMention(n.cfg.BidderRoleID) + " " + roleMention(n.cfg.CollectorRoleID)
	content := fmt.Sprintf("⏳ %s — This auction is at **halftime**!\n%s",
		mentions, n.jumpLink(a))
	err := n.sendChannel(a.ChannelID, content)
	logger.LogAlert("halfway", a.AuctionID, err)
	return err
}

func (n *Notifier) NotifyOneHour(ctx context.Context, a *models.Auction) error {
	content := fmt.Sprintf("🎯 %s — **1 hour remaining**! Final bids incoming!\n%s",
		roleMention(n.cfg.SniperRoleID), n.jumpLink(a))
	err := n.sendChannel(a.ChannelID, content)
	logger.LogAlert("one_hour", a.AuctionID, err)
	return err
}

func (n *Notifier) NotifyOutbid(ctx context.Context, userID string, newBid *models.Bid) error {
	content := fmt.Sprintf("You've been outbid in auction `%s`.\nNew high bid: %s by <@%s>.",
		newBid.AuctionID, FormatAmount(newBid.Amount), newBid.BidderID)
	return n.sendDM(userID, content)
}

func (n *Notifier) NotifyReminder(ctx context.Context, userID, auctionID string) error {
	content := fmt.Sprintf("⏰ Reminder: Auction `%s` is coming to a close soon!", auctionID)
	err := n.sendDM(userID, content)
	logger.LogAlert("reminder", auctionID, err)
	return err
}

func (n *Notifier) sendChannel(channelID, content string) error {
	client, err := n.getClient()
	if err != nil {
		return err
	}

	id, err := snowflake.Parse(channelID)
	if err != nil {
		return fmt.Errorf("invalid channel id %q: %w", channelID, err)
	}

	_, err = client.Rest().CreateMessage(id, discord.NewMessageCreateBuilder().
		SetContent(content).
		Build())
	if err != nil {
		return fmt.Errorf("failed to send channel message: %w", err)
	}
	return nil
}

func (n *Notifier) sendDM(userID, content string) error {
	client, err := n.getClient()
	if err != nil {
		return err
	}

	id, err := snowflake.Parse(userID)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", userID, err)
	}

	dmChannel, err := client.Rest().CreateDMChannel(id)
	if err != nil {
		return fmt.Errorf("failed to create DM channel: %w", err)
	}

	_, err = client.Rest().CreateMessage(dmChannel.ID(), discord.NewMessageCreateBuilder().
		SetContent(content).
		Build())
	if err != nil {
		// Recipients with closed DMs land here; the caller logs and moves on.
		return fmt.Errorf("failed to send DM: %w", err)
	}

	slog.Debug("DM sent",
		slog.String("type", "alert"),
		slog.String("user_id", userID))
	return nil
}

func (n *Notifier) getClient() (bot.Client, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.client == nil {
		return nil, fmt.Errorf("notifier has no client yet")
	}
	return n.client, nil
}

func (n *Notifier) jumpLink(a *models.Auction) string {
	return JumpLink(n.guildID.String(), a.ChannelID, a.MessageID)
}

func roleMention(id snowflake.ID) string {
	if id == 0 {
		return ""
	}
	return fmt.Sprintf("<@&%s>", id)
}
