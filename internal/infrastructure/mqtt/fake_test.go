package mqtt

import (
	"errors"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken is a completed paho token.
type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  any
}

// fakePaho records calls instead of talking to a broker.
type fakePaho struct {
	mu           sync.Mutex
	connected    bool
	subscribeErr error
	published    []published
	handlers     map[string]pahomqtt.MessageHandler
	unsubscribed []string
}

func newFakePaho() *fakePaho {
	return &fakePaho{connected: true, handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakePaho) IsConnected() bool      { return f.connected }
func (f *fakePaho) IsConnectionOpen() bool { return f.connected }
func (f *fakePaho) Connect() pahomqtt.Token {
	return &fakeToken{}
}
func (f *fakePaho) Disconnect(uint) { f.connected = false }

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic, qos, retained, payload})
	return &fakeToken{}
}

func (f *fakePaho) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return &fakeToken{err: f.subscribeErr}
	}
	f.handlers[topic] = callback
	return &fakeToken{}
}

func (f *fakePaho) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return &fakeToken{err: errors.New("not supported")}
}

func (f *fakePaho) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topics...)
	for _, t := range topics {
		delete(f.handlers, t)
	}
	return &fakeToken{}
}

func (f *fakePaho) AddRoute(string, pahomqtt.MessageHandler) {}

func (f *fakePaho) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

// deliver invokes the handler registered for topic as paho would.
func (f *fakePaho) deliver(subscribed string, msg pahomqtt.Message) {
	f.mu.Lock()
	h := f.handlers[subscribed]
	f.mu.Unlock()
	if h != nil {
		h(f, msg)
	}
}

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
	id      uint16
	dup     bool
	qos     byte
}

func (m *fakeMessage) Duplicate() bool   { return m.dup }
func (m *fakeMessage) Qos() byte         { return m.qos }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return m.id }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// recordingLogger captures log calls.
type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
