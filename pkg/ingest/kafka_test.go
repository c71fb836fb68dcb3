package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader replays a fixed set of messages, then reports the group closed.
type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return kafka.Message{}, kafka.ErrGroupClosed
	}
	msg := f.messages[0]
	f.messages = f.messages[1:]
	return msg, nil
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func TestKafkaConsumer_Run(t *testing.T) {
	h, store, _ := newTestHandler(t)
	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 0, Key: []byte("phone-7"), Value: []byte(`{"timestamp":10,"data":{"battery":{"level":12}}}`)},
		{Offset: 1, Value: []byte(`{"device_id":"phone-8","timestamp":11,"data":{}}`)},
		{Offset: 2, Value: []byte(`garbage`)},
		{Offset: 3, Key: []byte("phone-7"), Value: []byte(`{"data":{}}`)},
	}}
	consumer := newKafkaConsumer(KafkaConfig{Topic: "device-telemetry", GroupID: "test"}, reader, h)

	require.NoError(t, consumer.Run(context.Background()))
	assert.Equal(t, []int64{0, 1, 2, 3}, reader.committed, "rejected messages are still committed")

	ctx := context.Background()
	latest, err := store.Latest(ctx, "phone-7")
	require.NoError(t, err)
	require.NotNil(t, latest, "message key becomes the device id")
	assert.Equal(t, int64(10), latest.CapturedAtMs)

	count, err := store.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, consumer.Close())
	assert.True(t, reader.closed)
}

func TestKafkaConsumer_StopsOnCancel(t *testing.T) {
	h, _, _ := newTestHandler(t)
	consumer := newKafkaConsumer(KafkaConfig{}, &fakeReader{}, h)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := consumer.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewKafkaConsumer_Validation(t *testing.T) {
	h, _, _ := newTestHandler(t)

	_, err := NewKafkaConsumer(KafkaConfig{Topic: "t", GroupID: "g"}, h)
	assert.Error(t, err)
	_, err = NewKafkaConsumer(KafkaConfig{Brokers: []string{"localhost:9092"}, GroupID: "g"}, h)
	assert.Error(t, err)
	_, err = NewKafkaConsumer(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}, h)
	assert.Error(t, err)
}
