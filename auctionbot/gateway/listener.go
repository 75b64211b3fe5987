package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"

	"github.com/upxmarket/auctionbot/auctionbot"
	"github.com/upxmarket/auctionbot/auctionbot/auction"
)

const handleTimeout = 30 * time.Second

// MessageListener feeds raw messages from the configured auction channels
// into the engine's listing detection.
func MessageListener(manager *auction.Manager, cfg auctionbot.AuctionConfig) bot.EventListener {
	return bot.NewListenerFunc(func(ev *events.MessageCreate) {
		if ev.Message.Author.Bot || !cfg.AuctionChannel(ev.ChannelID) {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		defer cancel()

		detected, err := manager.HandleInboundMessage(ctx, auction.InboundMessage{
			ChannelID: ev.ChannelID.String(),
			MessageID: ev.MessageID.String(),
			AuthorID:  ev.Message.Author.ID.String(),
			Content:   ev.Message.Content,
			CreatedAt: ev.MessageID.Time(),
		})
		if err != nil {
			slog.Error("Failed to handle inbound message",
				slog.String("message_id", ev.MessageID.String()),
				slog.String("error", err.Error()))
			return
		}
		if detected {
			slog.Info("Auction listing detected",
				slog.String("message_id", ev.MessageID.String()),
				slog.String("channel_id", ev.ChannelID.String()))
		}
	})
}

// ReactionListener confirms a bid when the configured confirm emoji is added
// to a bid message: the message text is parsed for an amount and confirmed
// against the channel's active auction.
func ReactionListener(manager *auction.Manager, cfg auctionbot.AuctionConfig) bot.EventListener {
	return bot.NewListenerFunc(func(ev *events.MessageReactionAdd) {
		if ev.Emoji.ID == nil || *ev.Emoji.ID != cfg.ConfirmEmojiID {
			return
		}
		client := ev.Client()
		if ev.UserID == client.ID() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		defer cancel()

		msg, err := client.Rest().GetMessage(ev.ChannelID, ev.MessageID)
		if err != nil {
			slog.Error("Failed to fetch reacted message",
				slog.String("message_id", ev.MessageID.String()),
				slog.String("error", err.Error()))
			return
		}

		reply := func(content string) {
			_, err := client.Rest().CreateMessage(ev.ChannelID, discord.NewMessageCreateBuilder().
				SetContent(content).
				Build())
			if err != nil {
				slog.Error("Failed to send confirmation reply",
					slog.String("error", err.Error()))
			}
		}

		amount, err := auction.ParseAmount(msg.Content)
		if err != nil {
			reply(fmt.Sprintf("⚠️ Couldn't detect a valid bid in <@%s>'s message.", msg.Author.ID))
			return
		}

		auctionID, ok, err := manager.GetActiveForChannel(ctx, ev.ChannelID.String())
		if err != nil {
			slog.Error("Failed to resolve active auction",
				slog.String("channel_id", ev.ChannelID.String()),
				slog.String("error", err.Error()))
			return
		}
		if !ok {
			reply("⚠️ No active auction found for this channel. Please use `/track_auction <message_id>` first.")
			return
		}

		result, err := manager.ConfirmBid(ctx, msg.Author.ID.String(), amount, auctionID)
		if err != nil {
			reply(RenderBidError(err, auctionID))
			return
		}
		reply(fmt.Sprintf("✅ <@%s> confirmed at %s for `%s`.",
			msg.Author.ID, FormatAmount(result.Bid.Amount), auctionID))
	})
}

// RenderBidError turns a confirmation failure into the user-facing rejection
// text. Every rejection names the violated constraint so the user can retry
// correctly.
func RenderBidError(err error, auctionID string) string {
	var tooLow *auction.BidTooLowError
	switch {
	case errors.As(err, &tooLow):
		return fmt.Sprintf("⚠️ Bid must be higher than the current bid (%s).", FormatAmount(tooLow.Leading))
	case errors.Is(err, auction.ErrAuctionNotRegistered):
		return fmt.Sprintf("⚠️ Auction `%s` is not registered. Use `/track_auction %s` to activate.", auctionID, auctionID)
	case errors.Is(err, auction.ErrInvalidAmount):
		return "⚠️ Bid amount must be a positive number."
	default:
		return "⚠️ Something went wrong confirming that bid. Try again."
	}
}
