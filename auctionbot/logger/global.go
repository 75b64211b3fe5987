package logger

import "log/slog"

// LogAlert logs the outcome of a scheduled alert dispatch.
func LogAlert(kind string, auctionID string, err error) {
	attrs := []any{
		slog.String("type", "alert"),
		slog.String("kind", kind),
		slog.String("auction_id", auctionID),
	}

	if err != nil {
		slog.Error("Alert dispatch failed", append(attrs, slog.Any("error", err))...)
	} else {
		slog.Info("Alert dispatched", attrs...)
	}
}
