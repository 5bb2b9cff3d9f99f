package sqldest

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
)

// AlertSender abstracts message dispatch so Alerter can be tested
// without hitting a real notification service.
type AlertSender interface {
	Send(url, message string) error
}

// ShoutrrrSender dispatches alerts via the shoutrrr library, which
// fans a single message out to whatever service URL the destination
// is configured with (Slack, PagerDuty, email, …).
type ShoutrrrSender struct{}

func (ShoutrrrSender) Send(url, message string) error {
	return shoutrrr.Send(url, message)
}

// Alerter watches a destination's suspend/drop events and fires a
// notification when a sustained outage or a message drop happens,
// rate-limited by cooldown so a long suspension doesn't page on every
// retry attempt. Not part of the specification's core — sqldest never
// requires an Alerter to operate — but the worker calls it opportunistically
// when one is configured.
type Alerter struct {
	url      string
	sender   AlertSender
	cooldown time.Duration
	log      *slog.Logger

	mu   sync.Mutex
	last map[string]time.Time
}

// NewAlerter builds an Alerter that posts to url (a shoutrrr service
// URL) no more than once per cooldown for a given event key. A nil
// sender defaults to ShoutrrrSender.
func NewAlerter(url string, sender AlertSender, cooldown time.Duration, log *slog.Logger) *Alerter {
	if sender == nil {
		sender = ShoutrrrSender{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Alerter{url: url, sender: sender, cooldown: cooldown, log: log, last: make(map[string]time.Time)}
}

// NotifySuspended alerts that the destination disconnected and
// suspended for reopenSeconds.
func (a *Alerter) NotifySuspended(dialect, database string, reopenSeconds int) {
	a.fire("suspended", fmt.Sprintf(
		"sqldest: destination %s/%s disconnected, suspended for %ds", dialect, database, reopenSeconds))
}

// NotifyDropped alerts that a message was dropped after exhausting
// retries.
func (a *Alerter) NotifyDropped(dialect, database string, attempts int) {
	a.fire("dropped", fmt.Sprintf(
		"sqldest: destination %s/%s dropped a message after %d attempts", dialect, database, attempts))
}

func (a *Alerter) fire(key, message string) {
	a.mu.Lock()
	now := time.Now()
	if last, ok := a.last[key]; ok && now.Sub(last) < a.cooldown {
		a.mu.Unlock()
		return
	}
	a.last[key] = now
	a.mu.Unlock()

	if err := a.sender.Send(a.url, message); err != nil {
		a.log.Warn("failed to send alert", slog.String("error", err.Error()))
	}
}
