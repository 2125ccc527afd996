package infrastructure

import (
	"context"
	"testing"

	"github.com/24hmood24/checkserialnum/config"
)

func TestMessageTypeOf(t *testing.T) {
	tests := map[string]string{
		"scanners/till-1/check": "check",
		"check":                 "check",
		"scanners/till-1/":      "",
	}
	for topic, want := range tests {
		if got := messageTypeOf(topic); got != want {
			t.Errorf("%q: expected %q, got %q", topic, want, got)
		}
	}
}

func TestMQTTDispatch(t *testing.T) {
	sub, err := NewMQTTSubscriber(config.MQTTConfig{
		BrokerURL: "tcp://localhost:1883",
		Topics:    []string{"scanners/+/check"},
	}, quietLogger())
	if err != nil {
		t.Fatalf("new subscriber: %v", err)
	}

	var gotTopic string
	sub.RegisterHandler("check", func(_ context.Context, topic string, _ []byte) error {
		gotTopic = topic
		return nil
	})

	sub.dispatch("scanners/till-1/status", []byte("{}"))
	if gotTopic != "" {
		t.Fatal("unregistered message types must not reach the handler")
	}
	sub.dispatch("scanners/till-1/check", []byte("{}"))
	if gotTopic != "scanners/till-1/check" {
		t.Fatalf("expected dispatch to the check handler, got %q", gotTopic)
	}

	if err := sub.PublishResponse("scanners/till-1/result", nil, 0); err == nil {
		t.Fatal("expected an error while disconnected")
	}
}

func TestNewMQTTSubscriberValidation(t *testing.T) {
	if _, err := NewMQTTSubscriber(config.MQTTConfig{Topics: []string{"x"}}, quietLogger()); err == nil {
		t.Fatal("expected an error without a broker")
	}
	if _, err := NewMQTTSubscriber(config.MQTTConfig{BrokerURL: "tcp://x:1883"}, quietLogger()); err == nil {
		t.Fatal("expected an error without topics")
	}
}
