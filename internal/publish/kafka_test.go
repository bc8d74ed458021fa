package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratesim/internal/config"
	"ratesim/internal/engine"
	"ratesim/internal/model"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

var sent = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestPublisher(w *fakeWriter) *Publisher {
	p := newPublisher(w, 0)
	p.now = func() time.Time { return sent }
	return p
}

func TestPublishDecision(t *testing.T) {
	w := &fakeWriter{}
	p := newTestPublisher(w)
	d := model.Decision{
		Request:   model.Request{ClientID: "c1", Category: model.CategoryWrite, Timestamp: sent},
		Outcome:   model.OutcomeAdmitted,
		Remaining: 4,
	}
	require.NoError(t, p.PublishDecision(context.Background(), d))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "c1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, KindDecision, string(msg.Headers[0].Value))

	var ev Event
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, KindDecision, ev.Kind)
	assert.Equal(t, sent, ev.SentAt)
	require.NotNil(t, ev.Decision)
	assert.Equal(t, 4, ev.Decision.Remaining)
	assert.Nil(t, ev.Report)
}

func TestPublishReport(t *testing.T) {
	w := &fakeWriter{}
	p := newTestPublisher(w)
	rec := model.ReportRecord{ID: "r1", ClientID: "c9", Level: model.LevelCritical, Violations: []string{"Sliding window abuse detected"}}
	require.NoError(t, p.PublishReport(context.Background(), rec))

	var ev Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	require.NotNil(t, ev.Report)
	assert.Equal(t, model.LevelCritical, ev.Report.Level)
	assert.Equal(t, "c9", string(w.msgs[0].Key))
}

func TestPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := newTestPublisher(&fakeWriter{err: boom})
	err := p.PublishReport(context.Background(), model.ReportRecord{ClientID: "c1"})
	assert.ErrorIs(t, err, boom)
}

func TestNilPublisherIsNoop(t *testing.T) {
	var p *Publisher
	assert.NoError(t, p.PublishDecision(context.Background(), model.Decision{}))
	assert.NoError(t, p.Close())
}

func TestNewKafka(t *testing.T) {
	p, err := NewKafka(config.PublishConfig{Enabled: false}, nil)
	assert.NoError(t, err)
	assert.Nil(t, p)

	_, err = NewKafka(config.PublishConfig{Enabled: true, Topic: "t"}, nil)
	assert.Error(t, err)

	p, err = NewKafka(config.PublishConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "ratesim.events", Timeout: time.Second}, nil)
	require.NoError(t, err)
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "ratesim.events", w.Topic)
	assert.True(t, w.Async)
	assert.NotNil(t, w.Completion)
	assert.Equal(t, time.Second, p.timeout)
	assert.NoError(t, p.Close())
}

func TestCloseClosesWriter(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, newTestPublisher(w).Close())
	assert.True(t, w.closed)
}

// stuckWriter never delivers; it only returns once the caller gives up.
type stuckWriter struct{ calls int }

func (s *stuckWriter) WriteMessages(ctx context.Context, _ ...kafka.Message) error {
	s.calls++
	<-ctx.Done()
	return ctx.Err()
}

func (s *stuckWriter) Close() error { return nil }

func TestPublishGivesUpAfterTimeout(t *testing.T) {
	p := newPublisher(&stuckWriter{}, 20*time.Millisecond)
	start := time.Now()
	err := p.PublishDecision(context.Background(), model.Decision{Request: model.Request{ClientID: "c1"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStuckBrokerDoesNotHoldSubmissions(t *testing.T) {
	w := &stuckWriter{}
	cfg := config.DefaultConfig()
	eng := engine.NewEngine(cfg, engine.Options{
		Publisher: newPublisher(w, 20*time.Millisecond),
		Clock:     func() time.Time { return sent },
	})

	start := time.Now()
	for i := 0; i < 6; i++ {
		d := eng.Submit(context.Background(), model.Request{ClientID: "c1", Category: model.CategoryRead, Timestamp: sent})
		if i < 5 {
			assert.True(t, d.Admitted(), "request %d", i)
		} else {
			assert.False(t, d.Admitted())
		}
	}
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 6, w.calls)
}
