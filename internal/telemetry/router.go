package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/CovCube/server/internal/infrastructure/mqtt"
)

// Router defaults.
const (
	DefaultBufferSize = 1024
	dedupeWindow      = 256

	// subscribeQoS asks the broker for exactly-once delivery.
	subscribeQoS byte = 2
)

// Subscriber is the broker side of the router. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Recorder stores a reading. *Store satisfies it.
type Recorder interface {
	RecordReading(ctx context.Context, sensorType, cubeID, data string) (Record, error)
}

// Router subscribes to each cube's sensor topics and feeds inbound
// readings to the store.
//
// Broker callbacks only enqueue; Run drains the queue on one goroutine,
// so readings from a connection are stored in arrival order.
type Router struct {
	sub    Subscriber
	store  Recorder
	logger Logger

	msgs    chan mqtt.Message
	recent  *recentIDs
	dropped atomic.Uint64
}

// NewRouter creates a router. bufferSize <= 0 uses DefaultBufferSize.
func NewRouter(sub Subscriber, store Recorder, bufferSize int) *Router {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Router{
		sub:    sub,
		store:  store,
		logger: noopLogger{},
		msgs:   make(chan mqtt.Message, bufferSize),
		recent: newRecentIDs(dedupeWindow),
	}
}

// SetLogger sets the logger for the router.
func (r *Router) SetLogger(logger Logger) {
	r.logger = logger
}

// Start subscribes the boot announcements and every known cube. All
// subscriptions are attempted; the joined errors of the failures are
// returned.
func (r *Router) Start(cubeIDs []string) error {
	var errs []error
	initTopic := mqtt.Topics{}.AllInit()
	if err := r.sub.Subscribe(initTopic, subscribeQoS, r.enqueue); err != nil {
		errs = append(errs, fmt.Errorf("subscribing %s: %w", initTopic, err))
	}

	failed := 0
	for _, id := range cubeIDs {
		if err := r.SubscribeForCube(id); err != nil {
			errs = append(errs, err)
			failed++
		}
	}
	r.logger.Info("telemetry router subscribed", "cubes", len(cubeIDs)-failed, "failed", failed)
	return errors.Join(errs...)
}

// SubscribeForCube adds the wildcard subscription for one cube's readings.
func (r *Router) SubscribeForCube(cubeID string) error {
	topic := mqtt.Topics{}.CubeSensors(cubeID)
	if err := r.sub.Subscribe(topic, subscribeQoS, r.enqueue); err != nil {
		return fmt.Errorf("subscribing %s: %w", topic, err)
	}
	r.logger.Debug("subscribed to cube telemetry", "cube_id", cubeID, "topic", topic)
	return nil
}

// UnsubscribeCube drops a cube's subscription.
func (r *Router) UnsubscribeCube(cubeID string) error {
	topic := mqtt.Topics{}.CubeSensors(cubeID)
	if err := r.sub.Unsubscribe(topic); err != nil {
		return fmt.Errorf("unsubscribing %s: %w", topic, err)
	}
	return nil
}

// enqueue runs on the broker's goroutine and must not block it.
func (r *Router) enqueue(msg mqtt.Message) error {
	select {
	case r.msgs <- msg:
		return nil
	default:
		r.dropped.Add(1)
		return fmt.Errorf("telemetry queue full, dropped message on %s", msg.Topic)
	}
}

// Dropped returns how many messages were discarded because the queue was full.
func (r *Router) Dropped() uint64 {
	return r.dropped.Load()
}

// Run dispatches queued messages until ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-r.msgs:
			r.dispatch(ctx, msg)
		}
	}
}

// dispatch routes one message by its first topic segment.
func (r *Router) dispatch(ctx context.Context, msg mqtt.Message) {
	if r.isDuplicate(msg) {
		r.logger.Debug("ignoring duplicate delivery", "topic", msg.Topic, "packet_id", msg.ID)
		return
	}

	segs := mqtt.SplitTopic(msg.Topic)
	switch segs[0] {
	case mqtt.TopicRootSensor:
		r.handleSensor(ctx, segs, msg)
	case mqtt.TopicRootInit:
		r.logger.Debug("cube init message", "topic", msg.Topic)
	default:
		r.logger.Warn("dropping message on unrouted topic", "topic", msg.Topic)
	}
}

// isDuplicate reports a redelivery of a packet already handled. Only
// QoS 1 and 2 packets carry an id.
func (r *Router) isDuplicate(msg mqtt.Message) bool {
	if msg.QoS == 0 || msg.ID == 0 {
		return false
	}
	seen := r.recent.seen(msg.Topic + "#" + strconv.Itoa(int(msg.ID)))
	return seen && msg.Duplicate
}

func (r *Router) handleSensor(ctx context.Context, segs []string, msg mqtt.Message) {
	if len(segs) < 3 || segs[1] == "" || segs[2] == "" {
		r.logger.Warn("dropping malformed sensor topic", "topic", msg.Topic)
		return
	}
	sensorType, cubeID := segs[1], segs[2]

	rec, err := r.store.RecordReading(ctx, sensorType, cubeID, string(msg.Payload))
	if err != nil {
		r.logger.Warn("failed to store reading",
			"topic", msg.Topic, "sensor_type", sensorType, "cube_id", cubeID, "error", err)
		return
	}
	r.logger.Debug("reading stored", "id", rec.ID, "sensor_type", sensorType, "cube_id", cubeID)
}

// OnConnect logs a broker (re)connection.
func (r *Router) OnConnect() {
	r.logger.Info("mqtt connected, cube subscriptions restored")
}

// OnConnectionLost logs a lost broker connection. Readings published
// while disconnected are not replayed.
func (r *Router) OnConnectionLost(err error) {
	r.logger.Warn("mqtt connection lost", "error", err)
}

// OnReconnecting logs a reconnect attempt.
func (r *Router) OnReconnecting() {
	r.logger.Info("mqtt reconnecting")
}
