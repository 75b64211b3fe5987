package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/handler"

	"github.com/upxmarket/auctionbot/auctionbot"
	"github.com/upxmarket/auctionbot/auctionbot/auction"
	"github.com/upxmarket/auctionbot/auctionbot/database"
	"github.com/upxmarket/auctionbot/auctionbot/database/repositories"
	"github.com/upxmarket/auctionbot/auctionbot/gateway"
	"github.com/upxmarket/auctionbot/auctionbot/handlers"
	"github.com/upxmarket/auctionbot/auctionbot/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Initialize custom logger
	customHandler := logger.NewHandler()
	slog.SetDefault(slog.New(customHandler))

	slog.Info("Starting UPX Auction Bot",
		slog.String("version", version),
		slog.String("commit", commit))

	shouldSyncCommands := flag.Bool("sync-commands", false, "Whether to sync commands to discord")
	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := auctionbot.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}
	slog.Info("Configuration loaded successfully")

	slog.Info("Initializing database connection...")
	dbStartTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := database.New(ctx, cfg.DB)
	if err != nil {
		slog.Error("Database connection failed",
			slog.String("error", err.Error()),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}

	slog.Info("Database connected successfully",
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(dbStartTime)))

	slog.Info("Initializing database schema...")
	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize database schema",
			slog.String("error", err.Error()),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}
	slog.Info("Database schema initialized successfully")

	defer db.Close()

	b := auctionbot.New(*cfg, version, commit)
	b.DB = db

	// The notifier gets its gateway client after SetupBot.
	auctionRepo := repositories.NewAuctionRepository(db.BunDB())
	notifier := gateway.NewNotifier(cfg.Bot.GuildID, cfg.Auction)
	b.AuctionManager = auction.NewManager(auctionRepo, notifier)

	h := handler.New()
	auctionHandler := handlers.NewAuctionHandler(b.AuctionManager, cfg.Bot.GuildID, cfg.Auction)
	auctionHandler.Register(h)

	if err = b.SetupBot(h,
		bot.NewListenerFunc(b.OnReady),
		gateway.MessageListener(b.AuctionManager, cfg.Auction),
		gateway.ReactionListener(b.AuctionManager, cfg.Auction),
	); err != nil {
		slog.Error("Failed to setup bot",
			slog.String("type", "sys"),
			slog.Any("error", err),
			slog.String("component", "bot_setup"),
			slog.String("status", "failed"),
		)
		os.Exit(-1)
	}
	notifier.SetClient(b.Client)

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		b.Client.Close(ctx)
	}()

	// Re-arm alert timers for auctions that were active before a restart,
	// then keep expired auctions swept in the background.
	if err = b.AuctionManager.Start(context.Background()); err != nil {
		slog.Error("Failed to recover auction alerts",
			slog.String("type", "sys"),
			slog.Any("error", err),
			slog.String("component", "alert_recovery"),
			slog.String("status", "failed"),
		)
		os.Exit(-1)
	}
	defer b.AuctionManager.Shutdown()

	if *shouldSyncCommands {
		slog.Info("Syncing commands",
			slog.String("type", "sys"),
			slog.Any("guild_ids", cfg.Bot.DevGuilds),
		)
		if err = handler.SyncCommands(b.Client, handlers.Commands, cfg.Bot.DevGuilds); err != nil {
			slog.Error("Failed to sync commands",
				slog.String("type", "sys"),
				slog.Any("error", err),
				slog.String("error_details", fmt.Sprintf("%+v", err)),
				slog.String("component", "command_sync"),
				slog.String("status", "failed"),
			)
		}
	}

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = b.Client.OpenGateway(ctx); err != nil {
		slog.Error("Failed to open gateway",
			slog.String("type", "sys"),
			slog.Any("error", err),
			slog.String("component", "gateway"),
			slog.String("status", "failed"),
		)
		os.Exit(-1)
	}

	slog.Info("Bot is running. Press CTRL-C to exit.")
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	<-s
}
