package feed

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/FlexpointLLC/linquo-sub000/pkg/model"
)

// fallbackThreshold is how many consecutive live-delivery failures engage
// interval polling.
const fallbackThreshold = 3

// Poller watches live-delivery health and, once it degrades, polls the feed
// at a fixed interval until live delivery recovers. RecordSuccess and
// RecordFailure are called from the connection's event loop; Run owns the
// polling goroutine.
type Poller struct {
	feed     *Feed
	interval time.Duration
	log      *logrus.Logger

	failures chan int
	state    int
}

func NewPoller(feed *Feed, interval time.Duration, log *logrus.Logger) *Poller {
	return &Poller{
		feed:     feed,
		interval: interval,
		log:      log,
		failures: make(chan int, 16),
	}
}

func (p *Poller) RecordFailure() {
	select {
	case p.failures <- 1:
	default:
	}
}

func (p *Poller) RecordSuccess() {
	select {
	case p.failures <- 0:
	default:
	}
}

// Run polls while the failure streak is at or above the threshold. cursor
// supplies the caller's current high-water mark; apply merges recovered
// messages (idempotently, by id).
func (p *Poller) Run(ctx context.Context, conversationID string, cursor func() int64, apply func(model.Message)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case signal := <-p.failures:
			if signal == 0 {
				if p.state >= fallbackThreshold {
					p.log.WithField("conversation_id", conversationID).Info("live delivery recovered, leaving polling fallback")
				}
				p.state = 0
			} else {
				p.state++
				if p.state == fallbackThreshold {
					p.log.WithField("conversation_id", conversationID).Warn("live delivery degraded, entering polling fallback")
				}
			}
		case <-ticker.C:
			if p.state < fallbackThreshold {
				continue
			}
			msgs, err := p.feed.Sync(ctx, conversationID, cursor())
			if err != nil {
				p.log.WithError(err).Warn("fallback poll failed")
				continue
			}
			for _, m := range msgs {
				apply(m)
			}
		}
	}
}

// Engaged reports whether the fallback is active. State belongs to Run's
// goroutine; call this only after Run has returned.
func (p *Poller) Engaged() bool {
	return p.state >= fallbackThreshold
}
