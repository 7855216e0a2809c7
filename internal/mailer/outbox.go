package mailer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/metrics"
)

// Outbox sends mail in the background so a slow or dead mail server never
// holds up the request that queued the message.
type Outbox struct {
	Mailer  Mailer
	Timeout time.Duration

	wg sync.WaitGroup
}

func NewOutbox(m Mailer, timeout time.Duration) *Outbox {
	if m == nil {
		m = LogMailer{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Outbox{Mailer: m, Timeout: timeout}
}

// Send queues msg and returns at once. The returned channel yields the send
// result and is then closed; callers are free to ignore it. The message
// outlives ctx's cancellation but not the outbox timeout.
func (o *Outbox) Send(ctx context.Context, msg Message) <-chan error {
	done := make(chan error, 1)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(done)

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.Timeout)
		defer cancel()

		err := o.Mailer.Send(sendCtx, msg)
		if err != nil {
			metrics.MailFailuresTotal.Inc()
			slog.Warn("Email not sent", "to", msg.To, "subject", msg.Subject, "error", err)
		}
		done <- err
	}()
	return done
}

// Wait blocks until every queued message has been sent or has failed.
func (o *Outbox) Wait() {
	o.wg.Wait()
}
