package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRoundTrip(t *testing.T) {
	q := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, Message{Type: "attendance.recorded", Body: []byte(`{"student_id":"s1"}`)}))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		assert.Equal(t, "attendance.recorded", msg.Type)
		assert.Equal(t, `{"student_id":"s1"}`, string(msg.Body))
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestInMemoryPublishHonorsCancellation(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Publish(ctx, Message{Type: "a"}))
	cancel()
	// buffer full and context cancelled
	assert.Error(t, q.Publish(ctx, Message{Type: "b"}))
}

func TestSerializeFraming(t *testing.T) {
	msg := Message{Type: "attendance.recorded", Body: []byte(`{"date":"2024-03-01","source":"checkin"}`)}
	got := deserialize(serialize(msg))
	assert.Equal(t, msg.Type, got.Type)
	assert.Equal(t, msg.Body, got.Body)

	// body containing the separator survives: only the first '|' splits
	msg = Message{Type: "t", Body: []byte("a|b|c")}
	got = deserialize(serialize(msg))
	assert.Equal(t, "t", got.Type)
	assert.Equal(t, "a|b|c", string(got.Body))

	// unframed payloads degrade to an untyped message
	got = deserialize("no separator here")
	assert.Empty(t, got.Type)
	assert.Equal(t, "no separator here", string(got.Body))
}
