package cube

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/CovCube/server/internal/infrastructure/mqtt"
)

// EventPublisher sends serialised lifecycle events to the message bus.
// *mqtt.Client satisfies it.
type EventPublisher interface {
	PublishEvent(topic string, payload []byte) error
}

// EventListener receives lifecycle events in-process.
type EventListener func(Event)

// events fans committed changes out to the bus and local listeners.
type events struct {
	mu        sync.RWMutex
	publisher EventPublisher
	listeners []EventListener
}

func (e *events) setPublisher(p EventPublisher) {
	e.mu.Lock()
	e.publisher = p
	e.mu.Unlock()
}

func (e *events) addListener(l EventListener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

// emit never fails the caller: the change is already committed.
func (e *events) emit(logger Logger, action, cubeID string, snapshot *Cube) {
	ev := Event{
		Action:    action,
		CubeID:    cubeID,
		Cube:      snapshot,
		Timestamp: time.Now().UTC(),
	}

	e.mu.RLock()
	publisher := e.publisher
	listeners := append([]EventListener(nil), e.listeners...)
	e.mu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}

	if publisher == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Error("encoding cube event", "action", action, "cube_id", cubeID, "error", err)
		return
	}
	if err := publisher.PublishEvent(mqtt.Topics{}.CubeEvent(action), payload); err != nil {
		logger.Warn("publishing cube event failed", "action", action, "cube_id", cubeID, "error", err)
	}
}
