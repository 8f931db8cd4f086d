package bridge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tracker keeps a user's set of active transfers current from the event
// stream
type Tracker struct {
	network Network
	hub     *Hub
	user    string

	mu       sync.Mutex
	active   map[string]ActiveTransfer
	sub      *Subscription
	onChange func(ActiveTransfer, bool)
}

// NewTracker creates a tracker for user. onChange, if set, is called with
// each updated transfer and whether it is still active.
func NewTracker(network Network, hub *Hub, user string, onChange func(ActiveTransfer, bool)) *Tracker {
	return &Tracker{
		network:  network,
		hub:      hub,
		user:     user,
		active:   make(map[string]ActiveTransfer),
		onChange: onChange,
	}
}

// Start loads the current active set and follows events until Stop
func (t *Tracker) Start(ctx context.Context) error {
	transfers, err := t.network.ActiveTransfers(ctx, t.user)
	if err != nil {
		return fmt.Errorf("failed to load active transfers: %w", err)
	}

	t.mu.Lock()
	for _, tr := range transfers {
		t.active[strings.ToLower(tr.TransactionID)] = tr
	}
	t.mu.Unlock()

	t.sub = t.hub.Subscribe("tracker:"+t.user, "", t.owns, t.apply)
	return nil
}

// Stop detaches the tracker from the hub
func (t *Tracker) Stop() {
	t.sub.Cancel()
}

// Active returns the active transfers, most recently updated first
func (t *Tracker) Active() []ActiveTransfer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ActiveTransfer, 0, len(t.active))
	for _, tr := range t.active {
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

func (t *Tracker) owns(ev Event) bool {
	return ev.TxData.User == "" || strings.EqualFold(ev.TxData.User, t.user)
}

func (t *Tracker) apply(ev Event) {
	key := strings.ToLower(ev.TransactionID)

	t.mu.Lock()
	tr, known := t.active[key]
	still := true
	switch ev.Kind {
	case ReceiverTransactionFulfilled, ReceiverTransactionCancelled,
		SenderTransactionFulfilled, SenderTransactionCancelled:
		still = false
		delete(t.active, key)
	default:
		if !known {
			tr = ActiveTransfer{TransactionID: ev.TransactionID, Crosschain: ev.TxData}
		}
		tr.Status = ev.Kind
		if ev.Kind == SenderTransactionPrepared && ev.TxHash != "" {
			tr.SendingTxHash = ev.TxHash
		}
		if ev.Signature != "" {
			tr.Signature = ev.Signature
		}
		if ev.RelayerFee != "" {
			tr.RelayerFee = ev.RelayerFee
		}
		tr.UpdatedAt = ev.ReceivedAt
		t.active[key] = tr
	}
	onChange := t.onChange
	t.mu.Unlock()

	if !known && !still {
		return
	}
	if !still {
		tr.Status = ev.Kind
		tr.UpdatedAt = ev.ReceivedAt
	}
	if onChange != nil {
		onChange(tr, still)
	}
}
