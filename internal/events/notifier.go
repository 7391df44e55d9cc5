// Package events provides the process-wide publish point for connection
// status changes, message arrivals and sync progress. Delivery is
// fire-and-forget: subscribers that are slow or absent simply miss events.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailwatch/pkg/types"
)

// Kind identifies an event type on the wire.
type Kind string

const (
	KindAccountStatus Kind = "accountStatus"
	KindNewMessage    Kind = "email.new"
	KindSyncProgress  Kind = "sync.progress"
)

// Event is a single published notification.
type Event struct {
	Kind    Kind        `json:"kind"`
	Payload interface{} `json:"payload"`
}

// AccountStatus reports a connectivity change for one account.
type AccountStatus struct {
	AccountID   string `json:"accountId"`
	IsConnected bool   `json:"isConnected"`
}

// SyncProgress reports per-folder sync progress.
type SyncProgress struct {
	AccountID string `json:"accountId"`
	Folder    string `json:"folder"`
	Current   int    `json:"current"`
	Total     int    `json:"total"`
}

const subscriberBuffer = 64

// Notifier fans events out to all current subscribers. Publishing never
// blocks: a subscriber whose buffer is full drops the event.
type Notifier struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	logger *logrus.Logger
}

// NewNotifier creates a notifier. One instance lives for the whole process.
func NewNotifier(logger *logrus.Logger) *Notifier {
	return &Notifier{
		subs:   make(map[int]chan Event),
		logger: logger,
	}
}

// Subscribe registers a listener and returns its channel together with a
// cancel function that must be called when the listener goes away.
func (n *Notifier) Subscribe() (<-chan Event, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan Event, subscriberBuffer)
	n.subs[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// PublishAccountStatus broadcasts a connectivity change.
func (n *Notifier) PublishAccountStatus(accountID string, connected bool) {
	n.publish(Event{Kind: KindAccountStatus, Payload: AccountStatus{AccountID: accountID, IsConnected: connected}})
}

// PublishNewMessage broadcasts a newly synced message.
func (n *Notifier) PublishNewMessage(msg *types.Message) {
	n.publish(Event{Kind: KindNewMessage, Payload: msg})
}

// PublishSyncProgress broadcasts per-folder progress.
func (n *Notifier) PublishSyncProgress(accountID, folder string, current, total int) {
	n.publish(Event{Kind: KindSyncProgress, Payload: SyncProgress{
		AccountID: accountID,
		Folder:    folder,
		Current:   current,
		Total:     total,
	}})
}

func (n *Notifier) publish(e Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, ch := range n.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow; event dropped
		}
	}
}
