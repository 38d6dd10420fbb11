package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/FlexpointLLC/linquo-sub000/pkg/metrics"
	"github.com/FlexpointLLC/linquo-sub000/pkg/model"
)

// Consumer tails the message changelog topic. Each consumer gets its own
// group id so every instance sees every committed row (fan-out, not
// work-sharing).
type Consumer struct {
	reader  *kafka.Reader
	log     *logrus.Logger
	metrics *metrics.Metrics
}

func NewConsumer(brokers []string, topic string, log *logrus.Logger, m *metrics.Metrics) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     "changelog-" + uuid.New().String(),
		StartOffset: kafka.LastOffset,
		MinBytes:    10e3,
		MaxBytes:    10e6,
	})
	return &Consumer{reader: reader, log: log, metrics: m}
}

// Run delivers committed rows to handle until ctx is canceled. Read errors
// are retried; decode errors skip the row.
func (c *Consumer) Run(ctx context.Context, handle func(model.Message)) error {
	defer c.reader.Close()
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.WithError(err).Warn("changelog read error, retrying")
			time.Sleep(time.Second)
			continue
		}

		var msg model.Message
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			c.log.WithError(err).Warn("skipping malformed changelog row")
			continue
		}
		if c.metrics != nil {
			c.metrics.ChangelogLag.Set(time.Since(msg.CreatedAt).Seconds())
		}
		handle(msg)
	}
}
