package auctionbot

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/disgoorg/snowflake/v2"
	"github.com/pelletier/go-toml/v2"

	"github.com/upxmarket/auctionbot/auctionbot/database"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	Log     LogConfig         `toml:"log"`
	Bot     BotConfig         `toml:"bot"`
	DB      database.DBConfig `toml:"db"`
	Auction AuctionConfig     `toml:"auction"`
}

type BotConfig struct {
	DevGuilds []snowflake.ID `toml:"dev_guilds"`
	GuildID   snowflake.ID   `toml:"guild_id"`
	Token     string         `toml:"token"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

// AuctionConfig scopes detection and alert rendering. Listings are only
// detected in the configured auction channels; the role ids are mentioned in
// the halfway and one-hour alerts; the confirm emoji turns a reaction into a
// bid confirmation.
type AuctionConfig struct {
	ChannelIDs      []snowflake.ID `toml:"channel_ids"`
	ConfirmEmojiID  snowflake.ID   `toml:"confirm_emoji_id"`
	BidderRoleID    snowflake.ID   `toml:"bidder_role_id"`
	CollectorRoleID snowflake.ID   `toml:"collector_role_id"`
	SniperRoleID    snowflake.ID   `toml:"sniper_role_id"`
}

// AuctionChannel reports whether id is one of the configured listing
// channels.
func (c AuctionConfig) AuctionChannel(id snowflake.ID) bool {
	for _, ch := range c.ChannelIDs {
		if ch == id {
			return true
		}
	}
	return false
}
