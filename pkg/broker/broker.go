package broker

import (
	"github.com/sirupsen/logrus"

	"github.com/FlexpointLLC/linquo-sub000/pkg/metrics"
	"github.com/FlexpointLLC/linquo-sub000/pkg/model"
	"github.com/FlexpointLLC/linquo-sub000/pkg/presence"
)

// Broadcaster fans one event out to every current member of a room. Any
// transport that can reach room members may implement it.
type Broadcaster interface {
	Publish(room string, ev model.Event)
	PublishExcept(room string, ev model.Event, exceptID string)
}

// Hub is the in-memory Broadcaster. It copies the member snapshot out of the
// registry before sending, so no registry lock is held during delivery, and
// events published by a single goroutine reach each member in order.
//
// Delivery is at-least-once from the client's point of view: a member whose
// buffer is unavailable simply misses the event (a delivery gap) and catches
// up through reconciliation. The hub never retries.
type Hub struct {
	registry *presence.Registry
	log      *logrus.Logger
	metrics  *metrics.Metrics
}

func NewHub(registry *presence.Registry, log *logrus.Logger, m *metrics.Metrics) *Hub {
	return &Hub{registry: registry, log: log, metrics: m}
}

func (h *Hub) Publish(room string, ev model.Event) {
	h.PublishExcept(room, ev, "")
}

func (h *Hub) PublishExcept(room string, ev model.Event, exceptID string) {
	members := h.registry.RoomMembers(room)

	dropped := 0
	for _, m := range members {
		if exceptID != "" && m.ID() == exceptID {
			continue
		}
		if !m.Deliver(ev) {
			dropped++
		}
	}

	if h.metrics != nil {
		h.metrics.EventsPublished.WithLabelValues(ev.Name).Inc()
		if dropped > 0 {
			h.metrics.DeliveryGaps.Add(float64(dropped))
		}
	}
	if dropped > 0 {
		h.log.WithFields(logrus.Fields{
			"room":    room,
			"event":   ev.Name,
			"dropped": dropped,
		}).Debug("delivery gap, reconciliation will cover")
	}
}
