package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/panoview-bridge/internal/events"
	"github.com/mohammed-shakir/panoview-bridge/internal/logger"
)

type fakeDispatcher struct {
	failFirst atomic.Bool
	mu        sync.Mutex
	got       []events.Event
}

func (f *fakeDispatcher) Dispatch(_ context.Context, ev events.Event) error {
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return errors.New("boom")
	}
	f.mu.Lock()
	f.got = append(f.got, ev)
	f.mu.Unlock()
	return nil
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "map-events" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func rowEvent(op string, layer string, oid int64, seq uint64) []byte {
	ev := events.Event{
		Version: 1, Op: op, Map: "map", Layer: layer,
		TS: time.Now().UTC(), Seq: seq, ObjectID: &oid,
	}
	b, _ := json.Marshal(ev)
	return b
}

func newConsumerForTest(d events.Dispatcher) *Consumer {
	cfg := NewConfig("x", "map-events", "g")
	return New(cfg, logger.Discard(), nil, d)
}

func consume(t *testing.T, c *Consumer, s *sess, msgs ...*sarama.ConsumerMessage) error {
	t.Helper()
	ch := make(chan *sarama.ConsumerMessage, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	g := &groupHandler{process: c.ProcessOne}
	return g.ConsumeClaim(s, &claim{msgs: ch})
}

func TestSinglePartition_OrderAndMarkAfterDispatch(t *testing.T) {
	fd := &fakeDispatcher{}
	c := newConsumerForTest(fd)
	s := &sess{ctx: t.Context()}

	err := consume(t, c, s,
		&sarama.ConsumerMessage{Offset: 10, Value: rowEvent(events.OpRowCreated, "poles", 1, 1)},
		&sarama.ConsumerMessage{Offset: 11, Value: rowEvent(events.OpRowChanged, "poles", 1, 2)},
	)
	if err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	if fd.count() != 2 || fd.got[0].Op != events.OpRowCreated || fd.got[1].Op != events.OpRowChanged {
		t.Fatalf("dispatched=%+v", fd.got)
	}
}

func TestDispatchFailure_NotMarkedThenRetried(t *testing.T) {
	fd := &fakeDispatcher{}
	fd.failFirst.Store(true)
	c := newConsumerForTest(fd)
	ctx := context.Background()

	msg := &sarama.ConsumerMessage{Offset: 5, Value: rowEvent(events.OpRowDeleted, "poles", 3, 7)}
	if err := c.ProcessOne(ctx, msg); err == nil {
		t.Fatalf("expected error on first attempt")
	}

	s := &sess{ctx: ctx}
	if err := consume(t, c, s, msg); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
	if fd.count() != 1 {
		t.Fatalf("dispatched=%d want 1", fd.count())
	}
}

func TestMalformedEvents_SkippedAndMarked(t *testing.T) {
	fd := &fakeDispatcher{}
	c := newConsumerForTest(fd)
	s := &sess{ctx: t.Context()}

	noLayer, _ := json.Marshal(events.Event{Version: 1, Op: events.OpRowDeleted, Map: "m", TS: time.Now()})
	err := consume(t, c, s,
		&sarama.ConsumerMessage{Offset: 1, Value: []byte("{not json")},
		&sarama.ConsumerMessage{Offset: 2, Value: noLayer},
	)
	if err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 {
		t.Fatalf("marked=%v want both offsets", s.marked)
	}
	if fd.count() != 0 {
		t.Fatalf("invalid events reached the dispatcher: %+v", fd.got)
	}
}

func TestStaleSequence_Dropped(t *testing.T) {
	fd := &fakeDispatcher{}
	c := newConsumerForTest(fd)
	ctx := t.Context()

	msgs := []*sarama.ConsumerMessage{
		{Offset: 1, Value: rowEvent(events.OpRowChanged, "poles", 1, 5)},
		{Offset: 2, Value: rowEvent(events.OpRowChanged, "poles", 1, 5)},
		{Offset: 3, Value: rowEvent(events.OpRowChanged, "poles", 1, 4)},
		{Offset: 4, Value: rowEvent(events.OpRowChanged, "roads", 1, 1)},
		{Offset: 5, Value: rowEvent(events.OpRowChanged, "poles", 1, 6)},
		{Offset: 6, Value: rowEvent(events.OpRowChanged, "poles", 1, 0)},
		{Offset: 7, Value: rowEvent(events.OpRowChanged, "poles", 1, 0)},
	}
	for _, m := range msgs {
		if err := c.ProcessOne(ctx, m); err != nil {
			t.Fatalf("ProcessOne(%d): %v", m.Offset, err)
		}
	}
	// seq 0 is unsequenced and always applied
	if fd.count() != 5 {
		t.Fatalf("dispatched=%d want 5", fd.count())
	}
}

func TestMultiPartition_Parallel(t *testing.T) {
	fd := &fakeDispatcher{}
	c := newConsumerForTest(fd)
	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	p0 <- &sarama.ConsumerMessage{Partition: 0, Offset: 1, Value: rowEvent(events.OpRowCreated, "a", 1, 1)}
	p0 <- &sarama.ConsumerMessage{Partition: 0, Offset: 2, Value: rowEvent(events.OpRowCreated, "a", 2, 2)}
	p1 <- &sarama.ConsumerMessage{Partition: 1, Offset: 1, Value: rowEvent(events.OpRowCreated, "b", 1, 1)}
	p1 <- &sarama.ConsumerMessage{Partition: 1, Offset: 2, Value: rowEvent(events.OpRowCreated, "b", 2, 2)}
	close(p0)
	close(p1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 0, msgs: p0}) }()
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 1, msgs: p1}) }()
	wg.Wait()

	if len(s.marked) != 4 {
		t.Fatalf("expected 4 marks total; got %v", s.marked)
	}
}

func TestStart_RequiresDispatcher(t *testing.T) {
	c := New(NewConfig("x", "", ""), slog.Default(), nil, nil)
	if err := c.Start(t.Context()); err == nil {
		t.Fatalf("expected error without dispatcher")
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig(" a:9092 , ,b:9092", "", "")
	if len(cfg.Brokers) != 2 || cfg.Brokers[1] != "b:9092" {
		t.Fatalf("brokers=%v", cfg.Brokers)
	}
	if cfg.Topic != "map-events" || cfg.GroupID != "panoview-bridge" {
		t.Fatalf("topic=%q group=%q", cfg.Topic, cfg.GroupID)
	}
}
