package service

import (
	"context"

	"mailsentry/pkg/mq"
)

// MQNotifier publishes detection completion events onto the events
// topic exchange. Consumption is the UI layer's concern.
type MQNotifier struct {
	publisher *mq.Publisher
}

func NewMQNotifier(publisher *mq.Publisher) *MQNotifier {
	return &MQNotifier{publisher: publisher}
}

func (n *MQNotifier) DetectionCompleted(_ context.Context, event DetectionCompletedEvent) error {
	return n.publisher.Publish("detection.completed", event)
}
