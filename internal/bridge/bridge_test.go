package bridge

import (
	"errors"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/probe-link/probe-link-server/internal/config"
)

// stubToken is a pre-resolved MQTT token
type stubToken struct {
	timedOut bool
	err      error
}

func (t *stubToken) Wait() bool                     { return !t.timedOut }
func (t *stubToken) WaitTimeout(time.Duration) bool { return !t.timedOut }
func (t *stubToken) Error() error                   { return t.err }

func (t *stubToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// stubClient records subscriptions and answers them with one token
type stubClient struct {
	mqtt.Client
	token  mqtt.Token
	topics []string
}

func (c *stubClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	c.topics = append(c.topics, topic)
	return c.token
}

func testBridge(token mqtt.Token) (*Bridge, *stubClient) {
	client := &stubClient{token: token}
	b := &Bridge{
		cfg: config.MQTTConfig{
			TopicPrefix: "probe-link",
			QoS:         1,
			Timeout:     10 * time.Millisecond,
		},
		client: client,
	}
	return b, client
}

func TestSubscribeMQTTAttachesAllTopics(t *testing.T) {
	b, client := testBridge(&stubToken{})

	if err := b.subscribeMQTT(); err != nil {
		t.Fatalf("subscribeMQTT: %v", err)
	}
	if len(client.topics) != 4 {
		t.Fatalf("subscribed topics = %v, want 4 filters", client.topics)
	}
	for _, topic := range client.topics {
		if !strings.HasPrefix(topic, "probe-link/+/") {
			t.Errorf("topic filter %q outside the configured prefix", topic)
		}
	}
}

func TestSubscribeMQTTTimeout(t *testing.T) {
	b, _ := testBridge(&stubToken{timedOut: true})

	err := b.subscribeMQTT()
	if err == nil {
		t.Fatal("no error on subscribe timeout")
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("err = %q, want the timeout named", err)
	}
	if strings.Contains(err.Error(), "%!w") {
		t.Errorf("err = %q wraps a nil error", err)
	}
}

func TestSubscribeMQTTBrokerError(t *testing.T) {
	b, _ := testBridge(&stubToken{err: errors.New("not authorized")})

	err := b.subscribeMQTT()
	if err == nil {
		t.Fatal("no error on subscribe rejection")
	}
	if !strings.Contains(err.Error(), "not authorized") {
		t.Errorf("err = %q, want the broker error wrapped", err)
	}
}
