// Package kafkaconsumer feeds host map events from Kafka into the bridge.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	obs "github.com/mohammed-shakir/panoview-bridge/internal/core/observability"
	"github.com/mohammed-shakir/panoview-bridge/internal/events"
	mylog "github.com/mohammed-shakir/panoview-bridge/internal/logger"
)

type Consumer struct {
	cfg      Config
	logger   *slog.Logger
	zlog     *zerolog.Logger
	dispatch events.Dispatcher
	dedupe   *seqDedupe
}

func New(cfg Config, logger *slog.Logger, zl *zerolog.Logger, d events.Dispatcher) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if zl == nil {
		nop := zerolog.Nop()
		zl = &nop
	}
	return &Consumer{
		cfg:      cfg,
		logger:   logger,
		zlog:     zl,
		dispatch: d,
		dedupe:   newSeqDedupe(cfg.DedupeSize),
	}
}

// Start consumes map events until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	if c.dispatch == nil {
		return errors.New("kafkaconsumer: missing dispatcher")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("map event consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("map event consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.zlog.Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

// ProcessOne applies a single map event. Malformed and stale events are
// skipped so their offsets still advance; dispatch failures are returned.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev events.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncMapEvent("rejected")
		mylog.FromContext(ctx, c.zlog).Warn().
			Str("kind", "decode").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Err(err).
			Msg("skipping map event")
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncMapEvent("rejected")
		mylog.FromContext(ctx, c.zlog).Warn().
			Str("kind", "validate").
			Str("op", ev.Op).
			Int64("offset", msg.Offset).
			Err(err).
			Msg("skipping map event")
		return nil
	}

	key := ev.DedupeKey()
	if ev.Seq > 0 && c.dedupe.seen(key, ev.Seq) {
		obs.IncMapEvent("duplicate")
		c.logger.Debug("stale map event", "key", key, "seq", ev.Seq)
		return nil
	}

	ctx = mylog.WithMap(ctx, ev.Map)
	if ev.Layer != "" {
		ctx = mylog.WithLayer(ctx, ev.Layer)
	}
	if err := c.dispatch.Dispatch(ctx, ev); err != nil {
		mylog.FromContext(ctx, c.zlog).Error().
			Str("kind", "dispatch").
			Str("op", ev.Op).
			Int64("offset", msg.Offset).
			Err(err).
			Msg("map event dispatch failed")
		return fmt.Errorf("dispatch %s: %w", ev.Op, err)
	}
	if ev.Seq > 0 {
		c.dedupe.mark(key, ev.Seq)
	}

	mylog.FromContext(ctx, c.zlog).Debug().
		Str("event", "map_event").
		Str("op", ev.Op).
		Uint64("seq", ev.Seq).
		Msg("applied map event")
	return nil
}
