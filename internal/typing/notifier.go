package typing

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pingchat/internal/models"
)

// DefaultIdle is how long after the last keystroke typing:false is sent.
const DefaultIdle = time.Second

// Sender is the outbound half of the realtime channel.
type Sender interface {
	Send(event string, payload interface{}) bool
}

// Notifier debounces local typing activity into typing:true / typing:false
// events. At most one idle timer is live.
type Notifier struct {
	sender Sender
	idle   time.Duration
	logger zerolog.Logger

	mu     sync.Mutex
	timer  *time.Timer
	gen    uint64
	target models.TypingEvent
}

func NewNotifier(sender Sender, idle time.Duration) *Notifier {
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Notifier{
		sender: sender,
		idle:   idle,
		logger: log.With().Str("component", "typing").Logger(),
	}
}

// Activity sends typing:true from -> to and restarts the idle timer.
func (n *Notifier) Activity(from, to int64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.timer != nil {
		n.timer.Stop()
		if n.target.To != to || n.target.From != from {
			n.sendLocked(n.target.From, n.target.To, false)
		}
	}

	n.sendLocked(from, to, true)
	n.gen++
	gen := n.gen
	n.target = models.TypingEvent{From: from, To: to}
	n.timer = time.AfterFunc(n.idle, func() { n.expire(gen) })
}

// Stop cancels any pending timer and sends typing:false from -> to right away.
func (n *Notifier) Stop(from, to int64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.cancelLocked()
	n.sendLocked(from, to, false)
}

// Cancel drops the pending timer without sending anything.
func (n *Notifier) Cancel() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelLocked()
}

// Pending reports whether an idle timer is live.
func (n *Notifier) Pending() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.timer != nil
}

func (n *Notifier) expire(gen uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if gen != n.gen || n.timer == nil {
		return
	}
	n.timer = nil
	n.sendLocked(n.target.From, n.target.To, false)
}

func (n *Notifier) cancelLocked() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.gen++
}

func (n *Notifier) sendLocked(from, to int64, typing bool) {
	if !n.sender.Send(models.EventTyping, models.TypingEvent{From: from, To: to, IsTyping: typing}) {
		n.logger.Debug().Bool("is_typing", typing).Msg("typing event not sent")
	}
}
