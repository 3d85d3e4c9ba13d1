// Package kafkapub mirrors viewer commands onto a Kafka topic.
package kafkapub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/panoview-bridge/internal/viewer"
)

type Publisher struct {
	topic   string
	cmds    chan viewer.Command
	prod    sarama.AsyncProducer
	log     *slog.Logger
	stopped chan struct{}
	errDone chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewPublisher(brokers []string, topic string, queueSize int, log *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafkapub: create async producer: %w", err)
	}
	return newWithProducer(prod, topic, queueSize, log), nil
}

func newWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		cmds:    make(chan viewer.Command, queueSize),
		prod:    prod,
		log:     log,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for cmd := range p.cmds {
			b, err := json.Marshal(cmd)
			if err != nil {
				p.log.Warn("viewer command marshal failed", "type", cmd.Type, "error", err)
				continue
			}
			msg := &sarama.ProducerMessage{
				Topic: p.topic,
				Value: sarama.ByteEncoder(b),
			}
			if cmd.OverlayID != "" {
				msg.Key = sarama.StringEncoder(cmd.OverlayID)
			}
			p.prod.Input() <- msg
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				p.log.Warn("viewer command produce failed", "error", err)
			}
		}
	}()

	return p
}

// Publish enqueues cmd. When the queue is full or the publisher is closed
// the command is dropped and false is returned.
func (p *Publisher) Publish(cmd viewer.Command) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.cmds <- cmd:
		return true
	default:
		p.log.Debug("viewer command queue full, dropping", "type", cmd.Type)
		return false
	}
}

func (p *Publisher) Notify(_ context.Context, cmd viewer.Command) {
	p.Publish(cmd)
}

// Close drains queued commands into the producer and closes it.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.cmds)
	p.mu.Unlock()

	<-p.stopped
	err := p.prod.Close()
	<-p.errDone
	if err != nil {
		return fmt.Errorf("kafkapub: close producer: %w", err)
	}
	return nil
}
