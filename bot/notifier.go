// Package bot provides the Telegram dispatch channel and the services.BotNotifier built on it
package bot

import (
	"sync"

	"github.com/sirupsen/logrus"

	"patrol-beat-tracker/internal/services"
)

const notifierQueue = 32

// Sender delivers one message to dispatch
type Sender interface {
	Send(message string) error
}

// Notifier queues messages and sends them off the caller's goroutine.
// A Notifier with no sender only logs.
type Notifier struct {
	sender Sender
	queue  chan string
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewNotifier creates a notifier; sender may be nil
func NewNotifier(sender Sender) *Notifier {
	n := &Notifier{
		sender: sender,
		queue:  make(chan string, notifierQueue),
		done:   make(chan struct{}),
	}
	go n.loop()
	return n
}

func (n *Notifier) loop() {
	defer close(n.done)
	for message := range n.queue {
		if n.sender == nil {
			logrus.WithField("message", message).Debug("notification (no bot configured)")
			continue
		}
		if err := n.sender.Send(message); err != nil {
			logrus.WithError(err).Warn("⚠️ Failed to send notification")
		}
	}
}

// SendNotification queues a message for the dispatch chat; a full queue drops it
func (n *Notifier) SendNotification(message string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- message:
	default:
		logrus.Warn("⚠️ Notification queue full, dropping message")
	}
}

// Close flushes queued messages and stops the sender
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	<-n.done
}

// Ensure Notifier implements the BotNotifier interface
var _ services.BotNotifier = (*Notifier)(nil)
