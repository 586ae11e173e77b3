// Package realtime fans gateway events out to subscribers. Delivery is at-most-once and never blocks the caller.
package realtime

import "sync"

const (
	EventMessageReceived = "message:received"
	EventNewMessage      = "new_message"
)

// Publisher is the only fan-out dependency of the gateway.
type Publisher interface {
	Publish(channel, event string, payload any)
}

func UserChannel(userID string) string {
	return "user_" + userID
}

func ConversationChannel(threadID string) string {
	return "conversation_" + threadID
}

// NopPublisher is used when no realtime transport is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(string, string, any) {}

type Event struct {
	Channel string `json:"channel"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Recorder keeps every published event in call order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(channel, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Channel: channel, Event: event, Payload: payload})
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event{}, r.events...)
}

// Channel returns the events published to one channel, in order.
func (r *Recorder) Channel(channel string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Channel == channel {
			out = append(out, e)
		}
	}
	return out
}
