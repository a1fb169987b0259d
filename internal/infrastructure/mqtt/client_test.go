package mqtt

import (
	"context"
	"errors"
	"strings"
	"testing"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/CovCube/server/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "covcube-test"},
		QoS:    1,
	}
}

func connectedClient(t *testing.T) (*Client, *fakePaho) {
	t.Helper()
	fake := newFakePaho()
	c := newClient(fake, testConfig())
	c.setConnected(true)
	return c, fake
}

func TestSubscribe_DeliversMessage(t *testing.T) {
	c, fake := connectedClient(t)
	topic := Topics{}.CubeSensors("abc")

	var got Message
	err := c.Subscribe(topic, 2, func(msg Message) error {
		got = msg
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !c.HasSubscription(topic) || c.SubscriptionCount() != 1 {
		t.Fatal("subscription not tracked")
	}

	fake.deliver(topic, &fakeMessage{topic: "sensor/temp/abc", payload: []byte("21.5"), id: 7, dup: true, qos: 2})

	if got.Topic != "sensor/temp/abc" || string(got.Payload) != "21.5" {
		t.Errorf("message = %+v", got)
	}
	if got.ID != 7 || !got.Duplicate || got.QoS != 2 {
		t.Errorf("delivery metadata = id %d dup %v qos %d", got.ID, got.Duplicate, got.QoS)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c, _ := connectedClient(t)
	noop := func(Message) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		want    error
	}{
		{"empty topic", "", 0, noop, ErrInvalidTopic},
		{"qos too high", "a", 3, noop, ErrInvalidQoS},
		{"nil handler", "a", 0, nil, ErrSubscribeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Subscribe(tt.topic, tt.qos, tt.handler); !errors.Is(err, tt.want) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribe_NotConnected(t *testing.T) {
	c := newClient(newFakePaho(), testConfig())
	err := c.Subscribe("a", 0, func(Message) error { return nil })
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribe_BrokerErrorUntracks(t *testing.T) {
	c, fake := connectedClient(t)
	fake.subscribeErr = errors.New("refused")

	err := c.Subscribe("a", 1, func(Message) error { return nil })
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Fatalf("Subscribe() error = %v, want ErrSubscribeFailed", err)
	}
	if c.HasSubscription("a") {
		t.Error("failed subscription should not be tracked")
	}
}

func TestUnsubscribe(t *testing.T) {
	c, fake := connectedClient(t)
	if err := c.Subscribe("a", 1, func(Message) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if err := c.Unsubscribe("a"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if c.HasSubscription("a") {
		t.Error("subscription still tracked")
	}
	if len(fake.unsubscribed) != 1 || fake.unsubscribed[0] != "a" {
		t.Errorf("broker unsubscribes = %v", fake.unsubscribed)
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v", err)
	}
}

func TestReconnectRestoresSubscriptions(t *testing.T) {
	c, fake := connectedClient(t)
	for _, id := range []string{"a", "b"} {
		if err := c.Subscribe(Topics{}.CubeSensors(id), 2, func(Message) error { return nil }); err != nil {
			t.Fatal(err)
		}
	}

	var lost error
	connects := 0
	c.SetOnDisconnect(func(err error) { lost = err })
	c.SetOnConnect(func() { connects++ })

	c.handleDisconnect(errors.New("eof"))
	if c.IsConnected() || lost == nil {
		t.Fatal("disconnect not recorded")
	}

	fake.handlers = make(map[string]pahomqtt.MessageHandler)
	c.handleConnect()

	if !c.IsConnected() || connects != 1 {
		t.Fatal("reconnect not recorded")
	}
	if len(fake.handlers) != 2 {
		t.Errorf("restored %d subscriptions, want 2", len(fake.handlers))
	}

	last := fake.published[len(fake.published)-1]
	if last.topic != TopicServerStatus || !last.retained {
		t.Errorf("status publish = %+v", last)
	}
	if !strings.Contains(last.payload.(string), `"online"`) {
		t.Errorf("status payload = %v", last.payload)
	}
}

func TestReconnectingCallback(t *testing.T) {
	c, _ := connectedClient(t)
	called := false
	c.SetOnReconnecting(func() { called = true })
	c.handleReconnecting()
	if !called {
		t.Error("reconnecting callback not invoked")
	}
}

func TestWrapHandler_RecoversAndLogs(t *testing.T) {
	c, fake := connectedClient(t)
	logger := &recordingLogger{}
	c.SetLogger(logger)

	if err := c.Subscribe("panic", 0, func(Message) error { panic("boom") }); err != nil {
		t.Fatal(err)
	}
	if err := c.Subscribe("fail", 0, func(Message) error { return errors.New("bad") }); err != nil {
		t.Fatal(err)
	}

	fake.deliver("panic", &fakeMessage{topic: "panic"})
	fake.deliver("fail", &fakeMessage{topic: "fail"})

	if len(logger.errors) != 1 {
		t.Errorf("panic logs = %v", logger.errors)
	}
	if len(logger.warns) != 1 {
		t.Errorf("error logs = %v", logger.warns)
	}
}

func TestPublish(t *testing.T) {
	c, fake := connectedClient(t)

	if err := c.PublishEvent(Topics{}.CubeEvent(ActionCreate), []byte(`{}`)); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}
	got := fake.published[0]
	if got.topic != "cube/create" || got.qos != 1 || got.retained {
		t.Errorf("published = %+v", got)
	}

	if err := c.Publish("", nil, 0, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Publish("a", nil, 5, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos error = %v", err)
	}
	if err := c.Publish("a", make([]byte, maxPayloadSize+1), 0, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversized payload error = %v", err)
	}
}

func TestCloseAndHealth(t *testing.T) {
	c, fake := connectedClient(t)

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if fake.connected {
		t.Error("Close() did not disconnect")
	}
	last := fake.published[len(fake.published)-1]
	if !strings.Contains(last.payload.(string), "graceful_shutdown") {
		t.Errorf("offline payload = %v", last.payload)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after close = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() cancelled = %v", err)
	}
}

func TestTopics(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		got, want string
	}{
		{topics.CubeSensors("id-1"), "sensor/+/id-1/#"},
		{topics.SensorReading("temp", "id-1"), "sensor/temp/id-1"},
		{topics.CubeEvent(ActionDelete), "cube/delete"},
		{topics.AllCubeEvents(), "cube/#"},
		{topics.ServerStatus(), "covcube/server/status"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}

	segs := SplitTopic("sensor/temp/id-1/extra")
	if len(segs) != 4 || segs[0] != "sensor" || segs[2] != "id-1" {
		t.Errorf("SplitTopic() = %v", segs)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "cube"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://localhost:1883" {
		t.Errorf("servers = %v", opts.Servers)
	}
	if opts.Username != "cube" || opts.ClientID != "covcube-test" {
		t.Errorf("identity = %q/%q", opts.Username, opts.ClientID)
	}
	if !opts.CleanSession || !opts.AutoReconnect {
		t.Error("expected clean session with auto-reconnect")
	}

	configureLWT(opts, cfg.Broker.ClientID)
	if opts.WillTopic != TopicServerStatus || !opts.WillRetained {
		t.Errorf("will = %q retained=%v", opts.WillTopic, opts.WillRetained)
	}
}
