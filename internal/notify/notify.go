// Package notify is the fire-and-forget notification sink used by outbox consumers.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Notifier delivers a notification to a user.
type Notifier interface {
	Notify(ctx context.Context, userID, notificationType string, payload interface{}) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Message is the wire shape published to the notifications topic.
type Message struct {
	UserID  string      `json:"user_id"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	SentAt  time.Time   `json:"sent_at"`
}

// KafkaNotifier publishes notifications to Kafka behind a circuit breaker.
type KafkaNotifier struct {
	writer  messageWriter
	breaker *gobreaker.CircuitBreaker
	log     *zap.SugaredLogger
}

func NewKafkaNotifier(w *kafka.Writer, logger *zap.SugaredLogger) *KafkaNotifier {
	return newKafkaNotifier(w, logger)
}

func newKafkaNotifier(w messageWriter, logger *zap.SugaredLogger) *KafkaNotifier {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notify-kafka",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnw("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &KafkaNotifier{writer: w, breaker: cb, log: logger}
}

// Notify sends to Kafka.
func (n *KafkaNotifier) Notify(ctx context.Context, userID, notificationType string, payload interface{}) error {
	body, err := json.Marshal(Message{UserID: userID, Type: notificationType, Payload: payload, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	_, err = n.breaker.Execute(func() (interface{}, error) {
		return nil, n.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(userID),
			Value: body,
			Time:  time.Now(),
		})
	})
	return err
}

// LogNotifier only logs. Used when no broker is configured.
type LogNotifier struct {
	log *zap.SugaredLogger
}

func NewLogNotifier(logger *zap.SugaredLogger) *LogNotifier { return &LogNotifier{log: logger} }

func (n *LogNotifier) Notify(_ context.Context, userID, notificationType string, payload interface{}) error {
	n.log.Infow("notification", "user_id", userID, "type", notificationType, "payload", payload)
	return nil
}
