package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader hands out queued messages and reports io.EOF once drained,
// like a closed kafka.Reader.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    int
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func messages(values ...string) []kafka.Message {
	out := make([]kafka.Message, len(values))
	for i, v := range values {
		out[i] = kafka.Message{Topic: "mining.jobs", Offset: int64(i), Key: []byte(v), Value: []byte(`{"dataset":"` + v + `"}`)}
	}
	return out
}

func TestConsumerRedeliversThenCommits(t *testing.T) {
	r := &fakeReader{queue: messages("a", "b")}
	attempts := map[string]int{}
	c := newConsumer(r, "mining.jobs", func(_ context.Context, key, _ []byte) error {
		attempts[string(key)]++
		if string(key) == "a" && attempts["a"] < 3 {
			return errors.New("store unavailable")
		}
		return nil
	}, WithMaxDeliveries(3), WithRedeliveryDelay(time.Millisecond))

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, 3, attempts["a"])
	assert.Equal(t, 1, attempts["b"])
	assert.Equal(t, []int64{0, 1}, r.committed)
}

func TestConsumerDeadLettersExhaustedMessages(t *testing.T) {
	r := &fakeReader{queue: messages("bad", "good")}
	w := &fakeWriter{}
	c := newConsumer(r, "mining.jobs", func(_ context.Context, key, _ []byte) error {
		if string(key) == "bad" {
			return errors.New("mining failed")
		}
		return nil
	}, WithMaxDeliveries(2), WithRedeliveryDelay(time.Millisecond), WithDeadLetter(newProducer(w, "mining.jobs.dlq")))

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, []int64{0, 1}, r.committed)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "bad", string(w.msgs[0].Key))
	dl, err := DecodeJSON[DeadLetter](w.msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, "mining.jobs", dl.Topic)
	assert.Equal(t, int64(0), dl.Offset)
	assert.Contains(t, dl.Error, "mining failed")
	assert.JSONEq(t, `{"dataset":"bad"}`, string(dl.Payload))
}

func TestConsumerKeepsMessageWhenDeadLetterFails(t *testing.T) {
	r := &fakeReader{queue: messages("bad")}
	w := &fakeWriter{err: errors.New("broker down")}
	c := newConsumer(r, "mining.jobs", func(context.Context, []byte, []byte) error {
		return errors.New("mining failed")
	}, WithMaxDeliveries(1), WithDeadLetter(newProducer(w, "mining.jobs.dlq")))

	require.NoError(t, c.Start(context.Background()))
	assert.Empty(t, r.committed)
}

func TestConsumerCloseIsIdempotent(t *testing.T) {
	r := &fakeReader{}
	c := newConsumer(r, "mining.jobs", nil)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, r.closed)
}

func TestProducerPublishesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "mining.complete")
	require.NoError(t, p.Publish(context.Background(), Event{Key: "run-1", Value: map[string]int{"total_patterns": 5}}))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "run-1", string(w.msgs[0].Key))
	var got map[string]int
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, 5, got["total_patterns"])

	w.err = errors.New("broker down")
	assert.ErrorContains(t, p.Publish(context.Background(), Event{Key: "run-2", Value: 1}), "mining.complete")
}
