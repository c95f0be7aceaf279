package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueue_RoundTripsPayload(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubsub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := pubsub.Subscribe(ctx, TopicScrape)
	require.NoError(t, err)

	payload := ScrapePayload{RunID: uuid.New(), SourceID: uuid.New()}
	jobID, err := Enqueue(context.Background(), pubsub, TopicScrape, payload)
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	select {
	case msg := <-msgs:
		assert.Equal(t, jobID, msg.UUID, "the returned job ID is the message UUID")
		var got ScrapePayload
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, payload, got)
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("enqueued message never arrived")
	}
}

func TestEnqueue_UnmarshalablePayloadRejected(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubsub.Close()

	_, err := Enqueue(context.Background(), pubsub, TopicMatch, make(chan int))
	require.Error(t, err)
}

type failingPublisher struct{}

func (failingPublisher) Publish(topic string, messages ...*message.Message) error {
	return errors.New("redis down")
}

func (failingPublisher) Close() error { return nil }

func TestEnqueue_PublishFailureSurfaces(t *testing.T) {
	_, err := Enqueue(context.Background(), failingPublisher{}, TopicExport, ExportPayload{ScheduleID: uuid.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish job")
}
