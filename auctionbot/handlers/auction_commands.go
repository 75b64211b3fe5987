package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"
	"github.com/disgoorg/snowflake/v2"

	"github.com/upxmarket/auctionbot/auctionbot"
	"github.com/upxmarket/auctionbot/auctionbot/auction"
	"github.com/upxmarket/auctionbot/auctionbot/gateway"
)

// Commands is the full slash-command surface, synced on startup.
var Commands = []discord.ApplicationCommandCreate{
	discord.SlashCommandCreate{
		Name:        "track_auction",
		Description: "Register and activate an auction from an existing listing message",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionString{
				Name:        "message_id",
				Description: "The ID of the listing message in an auction channel",
				Required:    true,
			},
		},
	},
	discord.SlashCommandCreate{
		Name:        "cb",
		Description: "Confirm a bid for a user on the channel's active auction",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionUser{
				Name:        "bidder",
				Description: "The user whose bid is being confirmed",
				Required:    true,
			},
			discord.ApplicationCommandOptionInt{
				Name:        "amount",
				Description: "Bid amount in UPX",
				Required:    true,
				MinValue:    intPtr(1),
			},
			discord.ApplicationCommandOptionString{
				Name:        "auction_id",
				Description: "Auction to bid on (defaults to this channel's active auction)",
			},
		},
	},
	discord.SlashCommandCreate{
		Name:        "notify_outbid",
		Description: "Get a DM the next time someone outbids you on an auction",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionString{
				Name:        "auction_id",
				Description: "Auction to watch (defaults to this channel's active auction)",
			},
		},
	},
	discord.SlashCommandCreate{
		Name:        "set_reminder",
		Description: "Get a DM about an auction after a delay",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionString{
				Name:        "auction_id",
				Description: "Auction the reminder is about",
				Required:    true,
			},
			discord.ApplicationCommandOptionInt{
				Name:        "hours",
				Description: "Hours until the reminder",
				MinValue:    intPtr(0),
			},
			discord.ApplicationCommandOptionInt{
				Name:        "minutes",
				Description: "Minutes until the reminder",
				MinValue:    intPtr(0),
			},
		},
	},
	discord.SlashCommandCreate{
		Name:        "final_bid",
		Description: "Show the winning bid of an auction, excluding late bids",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionString{
				Name:        "auction_id",
				Description: "Auction to inspect",
				Required:    true,
			},
		},
	},
	discord.SlashCommandCreate{
		Name:        "auction_info",
		Description: "Show the status, deadline and current leader of an auction",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionString{
				Name:        "auction_id",
				Description: "Auction to inspect (defaults to this channel's active auction)",
			},
		},
	},
}

type AuctionHandler struct {
	manager *auction.Manager
	cfg     auctionbot.AuctionConfig
	guildID snowflake.ID
}

func NewAuctionHandler(manager *auction.Manager, guildID snowflake.ID, cfg auctionbot.AuctionConfig) *AuctionHandler {
	return &AuctionHandler{
		manager: manager,
		cfg:     cfg,
		guildID: guildID,
	}
}

func (h *AuctionHandler) Register(r handler.Router) {
	r.Command("/track_auction", WrapWithLogging("track_auction", h.HandleTrackAuction))
	r.Command("/cb", WrapWithLogging("cb", h.HandleConfirmBid))
	r.Command("/notify_outbid", WrapWithLogging("notify_outbid", h.HandleNotifyOutbid))
	r.Command("/set_reminder", WrapWithLogging("set_reminder", h.HandleSetReminder))
	r.Command("/final_bid", WrapWithLogging("final_bid", h.HandleFinalBid))
	r.Command("/auction_info", WrapWithLogging("auction_info", h.HandleAuctionInfo))
}

func (h *AuctionHandler) HandleTrackAuction(event *handler.CommandEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data := event.SlashCommandInteractionData()
	messageID, err := snowflake.Parse(data.String("message_id"))
	if err != nil {
		return ephemeral(event, "⚠️ That doesn't look like a message ID.")
	}

	// The listing can be in any of the configured auction channels.
	var msg *discord.Message
	var channelID snowflake.ID
	for _, cid := range h.cfg.ChannelIDs {
		if m, err := event.Client().Rest().GetMessage(cid, messageID); err == nil {
			msg = m
			channelID = cid
			break
		}
	}
	if msg == nil {
		return ephemeral(event, fmt.Sprintf("⚠️ Message `%s` was not found in any auction channel.", messageID))
	}

	endTime, ok := auction.Detect(msg.Content)
	if !ok {
		return ephemeral(event, "⚠️ That message has no `<t:...>` end-time token, so it can't be tracked.")
	}

	a, err := h.manager.TrackAuction(ctx, messageID.String(), channelID.String(), messageID.String(), endTime)
	if err != nil {
		if errors.Is(err, auction.ErrInvalidTransition) {
			return ephemeral(event, fmt.Sprintf("⚠️ Auction `%s` has already ended and can't be re-activated.", messageID))
		}
		return ephemeral(event, "⚠️ Failed to track that auction. Try again.")
	}

	return ephemeral(event, fmt.Sprintf("🛎 Tracking auction `%s`, ending <t:%d:R>.",
		a.AuctionID, a.EndTime.Unix()))
}

func (h *AuctionHandler) HandleConfirmBid(event *handler.CommandEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data := event.SlashCommandInteractionData()
	bidderID := data.Snowflake("bidder")
	amount := int64(data.Int("amount"))

	auctionID, ok, err := h.resolveAuctionID(ctx, event, data)
	if err != nil {
		return ephemeral(event, "⚠️ Failed to resolve the active auction for this channel.")
	}
	if !ok {
		return ephemeral(event, "⚠️ No active auction found for this channel. Please use `/track_auction <message_id>` first.")
	}

	result, err := h.manager.ConfirmBid(ctx, bidderID.String(), amount, auctionID)
	if err != nil {
		return ephemeral(event, gateway.RenderBidError(err, auctionID))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✅ <@%s> confirmed at %s for `%s`.", bidderID, gateway.FormatAmount(result.Bid.Amount), auctionID)
	if result.PreviousLeader != nil {
		fmt.Fprintf(&b, " Previous leader: <@%s> at %s.",
			result.PreviousLeader.BidderID, gateway.FormatAmount(result.PreviousLeader.Amount))
	}
	return event.CreateMessage(discord.MessageCreate{Content: b.String()})
}

func (h *AuctionHandler) HandleNotifyOutbid(event *handler.CommandEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data := event.SlashCommandInteractionData()
	auctionID, ok, err := h.resolveAuctionID(ctx, event, data)
	if err != nil {
		return ephemeral(event, "⚠️ Failed to resolve the active auction for this channel.")
	}
	if !ok {
		return ephemeral(event, "⚠️ No active auction found for this channel.")
	}

	if err := h.manager.Watch(ctx, auctionID, event.User().ID.String()); err != nil {
		if errors.Is(err, auction.ErrNotFound) {
			return ephemeral(event, fmt.Sprintf("⚠️ Auction `%s` is not registered.", auctionID))
		}
		return ephemeral(event, "⚠️ Failed to set up the outbid watch. Try again.")
	}
	return ephemeral(event, fmt.Sprintf("🔔 You'll get a DM the next time someone outbids you on `%s`.", auctionID))
}

func (h *AuctionHandler) HandleSetReminder(event *handler.CommandEvent) error {
	data := event.SlashCommandInteractionData()
	auctionID := data.String("auction_id")

	hours, _ := data.OptInt("hours")
	minutes, _ := data.OptInt("minutes")
	after := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute

	if err := h.manager.SetReminder(event.User().ID.String(), auctionID, after); err != nil {
		if errors.Is(err, auction.ErrInvalidDuration) {
			return ephemeral(event, "⚠️ Reminder delay must be greater than zero.")
		}
		return ephemeral(event, "⚠️ Failed to set the reminder. Try again.")
	}
	return ephemeral(event, fmt.Sprintf("⏰ Reminder set: I'll DM you about `%s` in %s.", auctionID, formatDelay(after)))
}

func (h *AuctionHandler) HandleFinalBid(event *handler.CommandEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data := event.SlashCommandInteractionData()
	auctionID := data.String("auction_id")

	leader, err := h.manager.FinalLeader(ctx, auctionID)
	if err != nil {
		switch {
		case errors.Is(err, auction.ErrNotFound):
			return ephemeral(event, fmt.Sprintf("⚠️ Auction `%s` is not registered.", auctionID))
		case errors.Is(err, auction.ErrNoEndTime):
			return ephemeral(event, fmt.Sprintf("⚠️ Auction `%s` has no recorded end time yet.", auctionID))
		default:
			return ephemeral(event, "⚠️ Failed to look up the final bid. Try again.")
		}
	}
	if leader == nil {
		return ephemeral(event, fmt.Sprintf("Auction `%s` received no bids before its deadline.", auctionID))
	}
	return event.CreateMessage(discord.MessageCreate{
		Content: fmt.Sprintf("🏆 Final bid on `%s`: <@%s> at %s.",
			auctionID, leader.BidderID, gateway.FormatAmount(leader.Amount)),
	})
}

func (h *AuctionHandler) HandleAuctionInfo(event *handler.CommandEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data := event.SlashCommandInteractionData()
	auctionID, ok, err := h.resolveAuctionID(ctx, event, data)
	if err != nil {
		return ephemeral(event, "⚠️ Failed to resolve the active auction for this channel.")
	}
	if !ok {
		return ephemeral(event, "⚠️ No active auction found for this channel.")
	}

	a, err := h.manager.Get(ctx, auctionID)
	if err != nil {
		if errors.Is(err, auction.ErrNotFound) {
			return ephemeral(event, fmt.Sprintf("⚠️ Auction `%s` is not registered.", auctionID))
		}
		return ephemeral(event, "⚠️ Failed to look up that auction. Try again.")
	}

	leader, err := h.manager.CurrentLeader(ctx, auctionID)
	if err != nil {
		return ephemeral(event, "⚠️ Failed to look up the current leader. Try again.")
	}

	embed := discord.NewEmbedBuilder().
		SetTitle(fmt.Sprintf("Auction %s", a.AuctionID)).
		AddField("Status", string(a.Status), true).
		SetColor(0x2b2d31)
	if a.EndTime != nil {
		embed.AddField("Ends", fmt.Sprintf("<t:%d:R>", a.EndTime.Unix()), true)
	} else {
		embed.AddField("Ends", "not yet known", true)
	}
	if leader != nil {
		embed.AddField("Current bid", fmt.Sprintf("<@%s> at %s", leader.BidderID, gateway.FormatAmount(leader.Amount)), false)
	} else {
		embed.AddField("Current bid", "no bids yet", false)
	}
	if pending := h.manager.Scheduler().Pending(auctionID); len(pending) > 0 {
		kinds := make([]string, len(pending))
		for i, k := range pending {
			kinds[i] = string(k)
		}
		embed.AddField("Pending alerts", strings.Join(kinds, ", "), false)
	}
	if link := gateway.JumpLink(h.guildID.String(), a.ChannelID, a.MessageID); link != "" {
		embed.AddField("Listing", link, false)
	}

	return event.CreateMessage(discord.MessageCreate{
		Embeds: []discord.Embed{embed.Build()},
		Flags:  discord.MessageFlagEphemeral,
	})
}

// resolveAuctionID prefers an explicit auction_id option and falls back to
// the channel's active auction.
func (h *AuctionHandler) resolveAuctionID(ctx context.Context, event *handler.CommandEvent, data discord.SlashCommandInteractionData) (string, bool, error) {
	if id, ok := data.OptString("auction_id"); ok && id != "" {
		return id, true, nil
	}
	return h.manager.GetActiveForChannel(ctx, event.ChannelID().String())
}

func ephemeral(event *handler.CommandEvent, content string) error {
	return event.CreateMessage(discord.MessageCreate{
		Content: content,
		Flags:   discord.MessageFlagEphemeral,
	})
}

func formatDelay(d time.Duration) string {
	d = d.Round(time.Minute)
	hours := int(d / time.Hour)
	minutes := int(d%time.Hour) / int(time.Minute)
	switch {
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

func intPtr(v int) *int {
	return &v
}
