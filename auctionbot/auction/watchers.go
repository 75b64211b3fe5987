package auction

import "sync"

// WatchRegistry holds the set of users who asked to be DMed once when their
// bid on a given auction is superseded. A watch is consumed the moment the
// user is outbid and notified; being outbid again without re-watching sends
// nothing.
type WatchRegistry struct {
	mu       sync.Mutex
	watchers map[string]map[string]struct{} // auction id -> user ids
}

func NewWatchRegistry() *WatchRegistry {
	return &WatchRegistry{
		watchers: make(map[string]map[string]struct{}),
	}
}

// Watch registers userID for a one-shot outbid notification on auctionID.
// Watching twice is the same as watching once.
func (w *WatchRegistry) Watch(auctionID, userID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	users, ok := w.watchers[auctionID]
	if !ok {
		users = make(map[string]struct{})
		w.watchers[auctionID] = users
	}
	users[userID] = struct{}{}
}

// Consume removes the watch for (auctionID, userID) and reports whether it
// was present. Only the bid confirmation path calls this; there is no other
// removal API.
func (w *WatchRegistry) Consume(auctionID, userID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	users, ok := w.watchers[auctionID]
	if !ok {
		return false
	}
	if _, ok := users[userID]; !ok {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(w.watchers, auctionID)
	}
	return true
}
