package main

import (
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"mqsource/internal/source"
)

// eventLogger is the downstream listener of the binary: it logs every event.
type eventLogger struct {
	logger *zap.Logger
}

func newEventLogger(logger *zap.Logger) *eventLogger {
	return &eventLogger{logger: logger.Named("events")}
}

func (l *eventLogger) OnEvent(payload any, _ []string) {
	switch p := payload.(type) {
	case map[string]any:
		l.logger.Info("received event", zap.String("kind", "map"), zap.Any("fields", p))
	case string:
		l.logger.Info("received event", zap.String("kind", "text"), zap.String("text", p))
	case source.Message:
		l.logger.Info("received event", zap.String("kind", "opaque"), zap.String("messageId", p.MessageID()))
	default:
		l.logger.Warn("received event of unexpected type", zap.String("type", fmt.Sprintf("%T", p)))
	}
}

// seedMessages builds count messages cycling through map, text and bytes
// messages.
func seedMessages(count int) []source.Message {
	customers := []string{"A", "B", "C", "D", "E"}
	msgs := make([]source.Message, 0, count)

	for i := 0; i < count; i++ {
		orderID := fmt.Sprintf("ORD-%04d", i+1)

		switch i % 3 {
		case 0:
			msgs = append(msgs, &source.MapMessage{Fields: map[string]any{
				"order_id":    orderID,
				"customer_id": customers[rand.Intn(len(customers))],
				"amount":      10.0 + rand.Float64()*990.0,
				"timestamp":   time.Now().Format(time.RFC3339),
			}})
		case 1:
			msgs = append(msgs, &source.TextMessage{Text: "order " + orderID + " shipped"})
		default:
			msgs = append(msgs, &source.BytesMessage{ContentType: "application/octet-stream", Body: []byte(orderID)})
		}
	}

	return msgs
}
