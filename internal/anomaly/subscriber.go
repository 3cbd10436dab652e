package anomaly

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/interview-sentry/backend/internal/metrics"
)

// Handler receives verdicts streamed back by the scoring service.
type Handler interface {
	// HandleSecurityAlert forwards an externally raised alert to the
	// affected session. No state change.
	HandleSecurityAlert(sessionID string, data map[string]any)

	// HandleTermination evicts the session on the scoring service's order.
	HandleTermination(sessionID, reason string)
}

const (
	inboundAlert       = "security_alert"
	inboundTermination = "session_terminated"
)

// inboundMessage is the envelope published by the scoring service.
type inboundMessage struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Reason    string         `json:"reason"`
	Data      map[string]any `json:"data"`
}

// Subscriber consumes the scoring service's verdict channel over Redis
// pub/sub. Malformed messages are dropped and logged; the loop only exits
// on context cancellation or subscription loss.
type Subscriber struct {
	rdb     *redis.Client
	channel string
	handler Handler
}

func NewSubscriber(redisURL, channel string, h Handler) (*Subscriber, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Subscriber{
		rdb:     redis.NewClient(opt),
		channel: channel,
		handler: h,
	}, nil
}

// Run blocks consuming the subscription until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.rdb.Subscribe(ctx, s.channel)
	defer sub.Close()

	// Fail fast if the broker is unreachable at startup.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	log.Printf("anomaly subscriber listening on %q", s.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.dispatch([]byte(msg.Payload))
		}
	}
}

// dispatch parses and routes one inbound payload. Never panics or returns:
// a bad message must not take down the subscriber loop.
func (s *Subscriber) dispatch(payload []byte) {
	var m inboundMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		metrics.MalformedMessages.Inc()
		log.Printf("anomaly subscriber: dropping malformed message: %v", err)
		return
	}
	if m.SessionID == "" {
		metrics.MalformedMessages.Inc()
		log.Printf("anomaly subscriber: dropping %q message without session_id", m.Type)
		return
	}

	switch m.Type {
	case inboundAlert:
		s.handler.HandleSecurityAlert(m.SessionID, m.Data)
	case inboundTermination:
		reason := m.Reason
		if reason == "" {
			reason = "terminated by anomaly service"
		}
		s.handler.HandleTermination(m.SessionID, reason)
	default:
		metrics.MalformedMessages.Inc()
		log.Printf("anomaly subscriber: dropping message of unknown type %q", m.Type)
	}
}
