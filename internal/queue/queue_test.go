package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialize(t *testing.T) {
	msg := Message{Type: "scan", Body: []byte(`{"token":"a|b"}`)}
	assert.Equal(t, msg, deserialize(serialize(msg)))
	assert.Equal(t, Message{Body: []byte("raw")}, deserialize("raw"))
}

func TestInMemory(t *testing.T) {
	q := NewInMemory(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, Message{Type: "scan", Body: []byte("1")}))
	require.NoError(t, q.Publish(ctx, Message{Type: "scan", Body: []byte("2")}))
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "scan", Body: []byte("3")}), ErrFull)

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	for _, want := range []string{"1", "2"} {
		select {
		case msg := <-msgs:
			assert.Equal(t, want, string(msg.Body))
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}

	cancel()
	for range msgs {
	}
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "scan"}), context.Canceled)
}

func TestRedisQueue_RoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	q := NewRedisQueue(client, "")
	q.timeout = 100 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, Message{Type: "scan", Body: []byte(`{"outcome":"recorded"}`)}))
	list, err := mr.List(DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, []string{`scan|{"outcome":"recorded"}`}, list)

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	select {
	case msg := <-msgs:
		assert.Equal(t, "scan", msg.Type)
		assert.JSONEq(t, `{"outcome":"recorded"}`, string(msg.Body))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestRedisQueue_PublishError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	q := NewRedisQueue(client, "k")

	mock.ExpectLPush("k", "scan|{}").SetErr(errors.New("READONLY"))

	err := q.Publish(context.Background(), Message{Type: "scan", Body: []byte("{}")})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
