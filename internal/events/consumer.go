package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/avoronin/affiliate-ledger/internal/config"
	"github.com/avoronin/affiliate-ledger/internal/domain"
	"github.com/avoronin/affiliate-ledger/internal/dto"
)

const rejoinDelay = time.Second

type Ledger interface {
	Accrue(ctx context.Context, affiliateID, orderID string, amount float64, linkCode string) error
	Release(ctx context.Context, orderID string) error
	Reverse(ctx context.Context, orderID string) error
}

// Consumer reads order-lifecycle events from kafka and feeds them to the
// ledger. The producer keys messages by order id, so claims are handled
// sequentially per partition and the events of one order arrive in order.
type Consumer struct {
	brokers []string
	topic   string
	group   string
	ledger  Ledger
}

func New(cfg *config.Config, ledger Ledger) *Consumer {
	return &Consumer{
		brokers: cfg.Brokers(),
		topic:   cfg.KafkaTopic,
		group:   cfg.KafkaGroup,
		ledger:  ledger,
	}
}

func (c *Consumer) Enabled() bool {
	return len(c.brokers) > 0
}

func (c *Consumer) Run(ctx context.Context) error {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(c.brokers, c.group, saramaCfg)
	if err != nil {
		return fmt.Errorf("can't create consumer group: %w", err)
	}
	defer group.Close()

	zap.L().Info("order events consumer started",
		zap.Strings("brokers", c.brokers),
		zap.String("topic", c.topic),
		zap.String("group", c.group),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			// A session error also covers a claim aborted on a hard handler
			// failure: the offset stays uncommitted, so rejoining redelivers
			// the event.
			err := group.Consume(ctx, []string{c.topic}, c)
			if ctx.Err() != nil || errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			if err != nil {
				zap.L().Error("consumer session ended, rejoining", zap.Error(err))
				time.Sleep(rejoinDelay)
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case err, ok := <-group.Errors():
				if !ok {
					return nil
				}
				zap.L().Error("consumer group error", zap.Error(err))
			}
		}
	})

	return g.Wait()
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim marks a message consumed only after it was handled. A hard
// error (exhausted conflict retries, DB outage) aborts the claim with the
// offset uncommitted, so the event is redelivered on the next session.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := c.handleMessage(session.Context(), msg.Value); err != nil {
			return err
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// handleMessage returns nil for anything that must not be retried: malformed
// payloads and soft dispatch outcomes.
func (c *Consumer) handleMessage(ctx context.Context, value []byte) error {
	var event dto.OrderEventDTO
	if err := json.Unmarshal(value, &event); err != nil {
		zap.L().Error("can't decode order event, skipping", zap.Error(err))
		return nil
	}

	if err := c.Dispatch(ctx, event); err != nil {
		zap.L().Error("failed to handle order event",
			zap.String("type", event.Type),
			zap.String("orderID", event.OrderID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Dispatch routes one decoded event. NotFound is swallowed: the order has no
// affiliate attached or the commission was already handled, both expected.
func (c *Consumer) Dispatch(ctx context.Context, event dto.OrderEventDTO) error {
	var err error
	switch event.Type {
	case dto.EventOrderSettled:
		err = c.ledger.Accrue(ctx, event.AffiliateID, event.OrderID, event.Amount, event.LinkCode)
	case dto.EventOrderDelivered:
		err = c.ledger.Release(ctx, event.OrderID)
	case dto.EventOrderRefunded:
		err = c.ledger.Reverse(ctx, event.OrderID)
	default:
		zap.L().Warn("unrecognized order event type", zap.String("type", event.Type))
		return nil
	}

	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}
