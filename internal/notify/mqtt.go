package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/tempsys-core/internal/auth"
)

// mailQoS is at-least-once; the relay de-duplicates on id.
const mailQoS = 1

// Publisher publishes one MQTT message. *mqtt.Client implements it.
type Publisher interface {
	PublishContext(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
}

// mailRequest is the outbox payload.
type mailRequest struct {
	ID          string    `json:"id"`
	To          string    `json:"to"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	RequestedAt time.Time `json:"requested_at"`
}

// MQTTNotifier hands messages to an external mail relay over MQTT.
type MQTTNotifier struct {
	pub   Publisher
	topic string
	now   func() time.Time
}

// NewMQTTNotifier publishes to topic through pub.
func NewMQTTNotifier(pub Publisher, topic string) *MQTTNotifier {
	return &MQTTNotifier{pub: pub, topic: topic, now: time.Now}
}

// Notify publishes msg and waits for the broker acknowledgement or ctx.
func (n *MQTTNotifier) Notify(ctx context.Context, msg auth.Message) error {
	payload, err := json.Marshal(mailRequest{
		ID:          uuid.NewString(),
		To:          msg.To,
		Subject:     msg.Subject,
		Body:        msg.Body,
		RequestedAt: n.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding mail request: %w", err)
	}

	if err := n.pub.PublishContext(ctx, n.topic, payload, mailQoS, false); err != nil {
		return fmt.Errorf("publishing mail request: %w", err)
	}
	return nil
}
