package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tailpay/internal/domain"
)

// TopicSender is satisfied by *FCMService.
type TopicSender interface {
	SendToTopic(ctx context.Context, topic, title, body string, data map[string]string) error
}

// PushNotifier forwards confirmed payments to a mobile push topic. Each send
// runs on its own goroutine so Emit never waits on the network.
type PushNotifier struct {
	sender  TopicSender
	topic   string
	timeout time.Duration
}

func NewPushNotifier(sender TopicSender, topic string) *PushNotifier {
	return &PushNotifier{sender: sender, topic: topic, timeout: 10 * time.Second}
}

func (n *PushNotifier) Emit(evt domain.IntentEvent) {
	if n == nil || n.sender == nil || evt.Type != domain.EventConfirmed {
		return
	}
	title := "Donation received"
	body := fmt.Sprintf("%s sent %s USDT", evt.Nickname, evt.Amount.String())
	data := map[string]string{
		"type":      evt.Type,
		"intent_id": evt.ID,
		"amount":    evt.Amount.String(),
		"method":    evt.Method,
		"message":   evt.Message,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.sender.SendToTopic(ctx, n.topic, title, body, data); err != nil {
			slog.Warn("push notification dropped", "intent_id", evt.ID, "error", err)
		}
	}()
}
