package stream

import (
	"context"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// TopicLifecycle carries orchestrator state transitions; per-session
// point feeds use the session ID as topic.
const TopicLifecycle = "lifecycle"

type Hub struct {
	redis       *redis.Client
	subscribers map[string]map[*Subscriber]struct{}
	mu          sync.RWMutex
}

type Subscriber struct {
	Topic string
	Send  chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:       redisClient,
		subscribers: map[string]map[*Subscriber]struct{}{},
	}

	if redisClient != nil {
		go h.relayRedis()
	}
	return h
}

func (h *Hub) Subscribe(topic string) *Subscriber {
	sub := &Subscriber{
		Topic: topic,
		Send:  make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[topic] == nil {
		h.subscribers[topic] = map[*Subscriber]struct{}{}
	}
	h.subscribers[topic][sub] = struct{}{}
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if topicSubs, ok := h.subscribers[sub.Topic]; ok {
		delete(topicSubs, sub)
		if len(topicSubs) == 0 {
			delete(h.subscribers, sub.Topic)
		}
	}
	close(sub.Send)
}

// Publish fans a payload out to subscribers, best effort: slow consumers
// drop. With redis configured the payload goes through redis only and the
// relay performs the one local delivery, so subscribers never see the
// hub's own publishes twice.
func (h *Hub) Publish(topic string, payload []byte) {
	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(topic), payload).Err()
		if err == nil {
			return
		}
		log.Printf("redis publish error: %v", err)
	}
	h.deliver(topic, payload)
}

func (h *Hub) deliver(topic string, payload []byte) {
	h.mu.RLock()
	subs := h.subscribers[topic]
	h.mu.RUnlock()

	for sub := range subs {
		select {
		case sub.Send <- payload:
		default:
		}
	}
}

func (h *Hub) relayRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, "fairfuel:*:feed")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		h.deliver(topicFromChannel(msg.Channel), []byte(msg.Payload))
	}
}

func redisChannel(topic string) string {
	return "fairfuel:" + topic + ":feed"
}

func topicFromChannel(ch string) string {
	// fairfuel:{topic}:feed
	const prefix = "fairfuel:"
	const suffix = ":feed"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
