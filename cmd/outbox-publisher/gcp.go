package main

import (
	"context"
	"errors"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

// topicSenders lazily opens one ordered publisher per topic.
type topicSenders struct {
	source topicSource

	mu      sync.Mutex
	byTopic map[string]sender
}

func newTopicSenders(source topicSource) *topicSenders {
	return &topicSenders{source: source, byTopic: map[string]sender{}}
}

func (t *topicSenders) get(topic string) sender {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.byTopic[topic]; ok {
		return s
	}
	handle := t.source.Publisher(topic)
	if handle == nil {
		return nil
	}
	handle.EnableMessageOrdering = true
	s := orderedSender{handle: handle}
	t.byTopic[topic] = s
	return s
}

type orderedSender struct {
	handle *gcppubsub.Publisher
}

func (s orderedSender) Publish(ctx context.Context, msg *gcppubsub.Message) sendResult {
	return orderedResult{
		result: s.handle.Publish(ctx, msg),
		handle: s.handle,
		key:    msg.OrderingKey,
	}
}

type orderedResult struct {
	result *gcppubsub.PublishResult
	handle *gcppubsub.Publisher
	key    string
}

// Get waits for the server ack. Pub/Sub pauses an ordering key after a failed
// publish, so the key is resumed here for the next attempt of the row.
func (r orderedResult) Get(ctx context.Context) (string, error) {
	if r.result == nil {
		return "", errors.New("publish result is nil")
	}
	id, err := r.result.Get(ctx)
	if err != nil && r.key != "" {
		r.handle.ResumePublish(r.key)
	}
	return id, err
}
