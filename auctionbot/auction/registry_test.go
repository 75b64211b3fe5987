package auction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/upxmarket/auctionbot/auctionbot/database/models"
)

func TestRegistryRegisterPendingIdempotent(t *testing.T) {
	repo := newMemRepo()
	r := NewRegistry(repo)
	ctx := context.Background()

	end := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	if err := r.RegisterPending(ctx, "a1", "chan-1", "a1", &end); err != nil {
		t.Fatalf("RegisterPending: %v", err)
	}

	// Re-detection of the same listing must not reset anything.
	other := end.Add(2 * time.Hour)
	if err := r.RegisterPending(ctx, "a1", "chan-1", "a1", &other); err != nil {
		t.Fatalf("RegisterPending (repeat): %v", err)
	}

	auction, err := r.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if auction.Status != models.AuctionStatusPending {
		t.Errorf("status = %s, want pending", auction.Status)
	}
	if auction.EndTime == nil || !auction.EndTime.Equal(end) {
		t.Errorf("end time = %v, want the originally detected %v", auction.EndTime, end)
	}
}

func TestRegistryRegisterPendingRepairsMissingEndTime(t *testing.T) {
	repo := newMemRepo()
	r := NewRegistry(repo)
	ctx := context.Background()

	if err := r.RegisterPending(ctx, "a1", "chan-1", "a1", nil); err != nil {
		t.Fatalf("RegisterPending: %v", err)
	}

	auction, err := r.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if auction.EndTime != nil {
		t.Fatalf("end time = %v, want unset", auction.EndTime)
	}

	end := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	if err := r.RegisterPending(ctx, "a1", "chan-1", "a1", &end); err != nil {
		t.Fatalf("RegisterPending (repair): %v", err)
	}

	auction, err = r.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if auction.EndTime == nil || !auction.EndTime.Equal(end) {
		t.Errorf("end time = %v, want repaired to %v", auction.EndTime, end)
	}
}

func TestRegistryActivateOwnsDeadline(t *testing.T) {
	repo := newMemRepo()
	r := NewRegistry(repo)
	ctx := context.Background()

	detected := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	if err := r.RegisterPending(ctx, "a1", "chan-1", "a1", &detected); err != nil {
		t.Fatalf("RegisterPending: %v", err)
	}

	corrected := detected.Add(time.Hour)
	auction, err := r.Activate(ctx, "a1", corrected)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if auction.Status != models.AuctionStatusActive {
		t.Errorf("status = %s, want active", auction.Status)
	}
	if auction.EndTime == nil || !auction.EndTime.Equal(corrected) {
		t.Errorf("end time = %v, want activation's %v", auction.EndTime, corrected)
	}

	// Re-activation replaces the deadline again.
	again := corrected.Add(30 * time.Minute)
	auction, err = r.Activate(ctx, "a1", again)
	if err != nil {
		t.Fatalf("Activate (repeat): %v", err)
	}
	if auction.EndTime == nil || !auction.EndTime.Equal(again) {
		t.Errorf("end time = %v, want re-activation's %v", auction.EndTime, again)
	}
}

func TestRegistryForwardOnlyTransitions(t *testing.T) {
	repo := newMemRepo()
	r := NewRegistry(repo)
	ctx := context.Background()

	end := time.Now().Add(2 * time.Hour)
	if err := r.RegisterPending(ctx, "a1", "chan-1", "a1", &end); err != nil {
		t.Fatalf("RegisterPending: %v", err)
	}
	if _, err := r.Activate(ctx, "a1", end); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if _, err := r.End(ctx, "a1"); err != nil {
		t.Fatalf("End: %v", err)
	}

	if _, err := r.Activate(ctx, "a1", end); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("activating an ended auction error = %v, want ErrInvalidTransition", err)
	}
	if _, err := r.End(ctx, "a1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("ending twice error = %v, want ErrInvalidTransition", err)
	}
	if _, err := r.Cancel(ctx, "a1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("canceling an ended auction error = %v, want ErrInvalidTransition", err)
	}
}

func TestRegistryCancelFromPending(t *testing.T) {
	repo := newMemRepo()
	r := NewRegistry(repo)
	ctx := context.Background()

	if err := r.RegisterPending(ctx, "a1", "chan-1", "a1", nil); err != nil {
		t.Fatalf("RegisterPending: %v", err)
	}
	auction, err := r.Cancel(ctx, "a1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if auction.Status != models.AuctionStatusCanceled {
		t.Errorf("status = %s, want canceled", auction.Status)
	}
}

func TestRegistryGetMissing(t *testing.T) {
	r := NewRegistry(newMemRepo())

	if _, err := r.Get(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(ghost) error = %v, want ErrNotFound", err)
	}
}

// ctxCheckRepo fails channel lookups when the caller's context is already
// canceled, the way a real store driver would.
type ctxCheckRepo struct {
	*memRepo
}

func (r *ctxCheckRepo) GetActiveForChannel(ctx context.Context, channelID string) (*models.Auction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.memRepo.GetActiveForChannel(ctx, channelID)
}

func TestRegistryChannelLookupDetachedFromCaller(t *testing.T) {
	r := NewRegistry(&ctxCheckRepo{memRepo: newMemRepo()})
	ctx := context.Background()

	end := time.Now().Add(2 * time.Hour)
	if err := r.RegisterPending(ctx, "a1", "chan-1", "a1", &end); err != nil {
		t.Fatalf("RegisterPending: %v", err)
	}
	if _, err := r.Activate(ctx, "a1", end); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	r.Invalidate("chan-1")

	// A canceled caller still resolves: the lookup is shared with concurrent
	// waiters, so its result must not depend on one caller's context.
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	id, ok, err := r.GetActiveForChannel(canceled, "chan-1")
	if err != nil {
		t.Fatalf("GetActiveForChannel: %v", err)
	}
	if !ok || id != "a1" {
		t.Fatalf("resolved %q, want a1", id)
	}
}

func TestRegistryGetActiveForChannel(t *testing.T) {
	repo := newMemRepo()
	r := NewRegistry(repo)
	ctx := context.Background()

	id, ok, err := r.GetActiveForChannel(ctx, "chan-1")
	if err != nil {
		t.Fatalf("GetActiveForChannel: %v", err)
	}
	if ok || id != "" {
		t.Fatalf("empty channel resolved to %q", id)
	}

	end := time.Now().Add(2 * time.Hour)
	if err := r.RegisterPending(ctx, "a1", "chan-1", "a1", &end); err != nil {
		t.Fatalf("RegisterPending: %v", err)
	}

	// Pending auctions are not biddable.
	if _, ok, _ := r.GetActiveForChannel(ctx, "chan-1"); ok {
		t.Fatal("pending auction must not resolve as active")
	}

	if _, err := r.Activate(ctx, "a1", end); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	id, ok, err = r.GetActiveForChannel(ctx, "chan-1")
	if err != nil {
		t.Fatalf("GetActiveForChannel: %v", err)
	}
	if !ok || id != "a1" {
		t.Fatalf("resolved %q, want a1", id)
	}

	// Ending drops the cached mapping.
	if _, err := r.End(ctx, "a1"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, ok, _ := r.GetActiveForChannel(ctx, "chan-1"); ok {
		t.Fatal("ended auction must not resolve as active")
	}
}
