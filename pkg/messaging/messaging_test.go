package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	got    []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.got = append(w.got, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublishCarriesTypeHeader(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{writer: w, topic: "dex.events"}

	err := k.Publish(context.Background(),
		Message{Type: "OrderCreated", Key: []byte("1"), Value: []byte(`{}`)},
		Message{Type: "ChainSettled", Key: []byte("abc"), Value: []byte(`{}`)},
	)
	require.NoError(t, err)
	require.Len(t, w.got, 2)
	assert.Equal(t, []byte("1"), w.got[0].Key)
	assert.Equal(t, "type", w.got[1].Headers[0].Key)
	assert.Equal(t, []byte("ChainSettled"), w.got[1].Headers[0].Value)

	require.NoError(t, k.Publish(context.Background()))
	assert.Len(t, w.got, 2, "empty publish writes nothing")

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublishWrapsErrors(t *testing.T) {
	boom := errors.New("broker down")
	k := &Kafka{writer: &fakeWriter{err: boom}, topic: "dex.events"}
	err := k.Publish(context.Background(), Message{Type: "x"})
	assert.ErrorIs(t, err, boom)
}

func TestMemoryKeepsNewest(t *testing.T) {
	m := NewMemory(2)
	for _, typ := range []string{"a", "b", "c"} {
		require.NoError(t, m.Publish(context.Background(), Message{Type: typ}))
	}
	got := m.Messages()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Type)
	assert.Equal(t, "c", got[1].Type)
}
