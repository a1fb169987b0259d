package provisioning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/CovCube/server/internal/auth"
	"github.com/CovCube/server/internal/catalog"
	"github.com/CovCube/server/internal/cube"
	"github.com/CovCube/server/internal/infrastructure/database/databasetest"
	"github.com/CovCube/server/internal/infrastructure/mqtt"
	"github.com/CovCube/server/internal/telemetry"
)

// scriptedDevice answers the handshake without a network.
type scriptedDevice struct {
	mu    sync.Mutex
	calls []scriptedCall
	reply func(req ConfigureRequest) (*ConfigureResponse, error)
}

type scriptedCall struct {
	IP  string
	Req ConfigureRequest
}

func (d *scriptedDevice) Configure(_ context.Context, ip string, req ConfigureRequest) (*ConfigureResponse, error) {
	d.mu.Lock()
	d.calls = append(d.calls, scriptedCall{IP: ip, Req: req})
	d.mu.Unlock()
	return d.reply(req)
}

func replyWith(sensors []cube.SensorAssignment, actuators []string) func(ConfigureRequest) (*ConfigureResponse, error) {
	return func(ConfigureRequest) (*ConfigureResponse, error) {
		return &ConfigureResponse{Sensors: sensors, Actuators: actuators}, nil
	}
}

// fakeBroker tracks subscriptions made through the router.
type fakeBroker struct {
	mu     sync.Mutex
	topics map[string]bool
	err    error
}

func (b *fakeBroker) Subscribe(topic string, _ byte, _ mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.topics[topic] = true
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics, topic)
	return nil
}

func (b *fakeBroker) subscribed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.topics))
	for t := range b.topics {
		out = append(out, t)
	}
	return out
}

type provisionFixture struct {
	registry *cube.Registry
	tokens   *auth.SQLiteTokenRepository
	broker   *fakeBroker
	device   *scriptedDevice
	prov     *Provisioner
}

func newProvisionFixture(t *testing.T) *provisionFixture {
	t.Helper()
	db := databasetest.New(t)

	f := &provisionFixture{
		registry: cube.NewRegistry(cube.NewSQLiteRepository(db.DB), catalog.NewStore(db.DB)),
		tokens:   auth.NewTokenRepository(db.DB),
		broker:   &fakeBroker{topics: make(map[string]bool)},
		device: &scriptedDevice{
			reply: replyWith([]cube.SensorAssignment{{Type: "temp", ScanInterval: 60}}, []string{"led"}),
		},
	}
	store := telemetry.NewStore(telemetry.NewSQLiteRepository(db.DB))
	router := telemetry.NewRouter(f.broker, store, 0)
	f.prov = New(f.registry, f.device, f.tokens, router, BrokerEndpoint{Address: "192.168.1.2", Port: 1883})
	return f
}

func (f *provisionFixture) cubeCount(t *testing.T) int {
	t.Helper()
	cubes, err := f.registry.ListCubes(context.Background())
	if err != nil {
		t.Fatalf("ListCubes() error = %v", err)
	}
	return len(cubes)
}

func states(a *Attempt) []State {
	out := make([]State, len(a.History))
	for i, tr := range a.History {
		out[i] = tr.State
	}
	return out
}

func assertStates(t *testing.T, a *Attempt, want ...State) {
	t.Helper()
	got := states(a)
	if len(got) != len(want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("history = %v, want %v", got, want)
		}
	}
}

func TestProvision_EndToEnd(t *testing.T) {
	f := newProvisionFixture(t)
	ctx := context.Background()

	a, err := f.prov.Provision(ctx, "10.0.0.5", "Room A")
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	assertStates(t, a, StateRequested, StateAcknowledged, StatePersisted)

	cubes, err := f.registry.ListCubes(ctx)
	if err != nil {
		t.Fatalf("ListCubes() error = %v", err)
	}
	if len(cubes) != 1 {
		t.Fatalf("len(cubes) = %d, want 1", len(cubes))
	}
	c := cubes[0]
	if c.ID != a.CubeID || c.IP != "10.0.0.5" || c.Location != "Room A" {
		t.Errorf("cube = %+v, want id %s at 10.0.0.5 in Room A", c, a.CubeID)
	}
	if len(c.Sensors) != 1 || c.Sensors[0] != (cube.SensorAssignment{Type: "temp", ScanInterval: 60}) {
		t.Errorf("Sensors = %+v, want [temp/60]", c.Sensors)
	}
	if len(c.Actuators) != 1 || c.Actuators[0] != "led" {
		t.Errorf("Actuators = %v, want [led]", c.Actuators)
	}

	topics := f.broker.subscribed()
	if len(topics) != 1 || topics[0] != (mqtt.Topics{}).CubeSensors(a.CubeID) {
		t.Errorf("subscriptions = %v, want only %s", topics, mqtt.Topics{}.CubeSensors(a.CubeID))
	}

	if len(f.device.calls) != 1 {
		t.Fatalf("device called %d times, want 1", len(f.device.calls))
	}
	call := f.device.calls[0]
	if call.IP != "10.0.0.5" {
		t.Errorf("device ip = %q, want 10.0.0.5", call.IP)
	}
	if call.Req.Address != "192.168.1.2" || call.Req.Port != 1883 {
		t.Errorf("advertised broker = %s:%d, want 192.168.1.2:1883", call.Req.Address, call.Req.Port)
	}
	if call.Req.UUID != a.CubeID || call.Req.Location != "Room A" {
		t.Errorf("request = %+v, want uuid %s and Room A", call.Req, a.CubeID)
	}

	tok, err := f.tokens.Validate(ctx, call.Req.Token)
	if err != nil {
		t.Fatalf("device token not stored: %v", err)
	}
	if tok.Owner != auth.CubeOwner(a.CubeID) {
		t.Errorf("token owner = %q, want %q", tok.Owner, auth.CubeOwner(a.CubeID))
	}
}

func TestProvision_OverHTTP(t *testing.T) {
	f := newProvisionFixture(t)
	dev := newFakeDevice(t, capabilityReply)
	prov := New(f.registry, NewDeviceClient(time.Second), f.tokens,
		telemetry.NewRouter(f.broker, nil, 0), BrokerEndpoint{Address: "192.168.1.2", Port: 1883})

	a, err := prov.Provision(context.Background(), dev.addr(), "  Room A  ")
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if a.Cube == nil || a.Cube.Location != "Room A" || a.Cube.IP != dev.addr() {
		t.Errorf("Cube = %+v, want trimmed location and device address", a.Cube)
	}

	reqs := dev.recorded()
	if len(reqs) != 1 || reqs[0].Body["uuid"] != a.CubeID {
		t.Errorf("device requests = %+v, want one handshake carrying %s", reqs, a.CubeID)
	}
}

func TestProvision_BlankInput(t *testing.T) {
	tests := []struct {
		name, ip, location, field string
	}{
		{"blank ip", "  ", "Room A", "targetIP"},
		{"blank location", "10.0.0.5", "", "location"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newProvisionFixture(t)

			a, err := f.prov.Provision(context.Background(), tt.ip, tt.location)

			var verr *cube.ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Fatalf("Provision() error = %v, want ValidationError on %s", err, tt.field)
			}
			assertStates(t, a, StateRequested, StateFailed)
			if len(f.device.calls) != 0 {
				t.Error("device should not be contacted")
			}
		})
	}
}

func TestProvision_DeviceFailure(t *testing.T) {
	f := newProvisionFixture(t)
	f.device.reply = func(ConfigureRequest) (*ConfigureResponse, error) {
		return nil, &DeviceCommunicationError{Addr: "10.0.0.5", Op: "configure", Err: errors.New("connection refused")}
	}

	a, err := f.prov.Provision(context.Background(), "10.0.0.5", "Room A")
	if !IsDeviceCommunication(err) {
		t.Fatalf("Provision() error = %v, want DeviceCommunicationError", err)
	}
	assertStates(t, a, StateRequested, StateFailed)
	if a.Err == nil {
		t.Error("attempt should record its error")
	}
	if n := f.cubeCount(t); n != 0 {
		t.Errorf("cubes = %d, want 0", n)
	}
	if len(f.broker.subscribed()) != 0 {
		t.Error("no subscription should be made")
	}
}

func TestProvision_TokenMismatch(t *testing.T) {
	f := newProvisionFixture(t)
	f.device.reply = func(ConfigureRequest) (*ConfigureResponse, error) {
		return &ConfigureResponse{
			Sensors:   []cube.SensorAssignment{{Type: "temp", ScanInterval: 60}},
			Actuators: []string{"led"},
			Token:     auth.MintToken(),
		}, nil
	}

	_, err := f.prov.Provision(context.Background(), "10.0.0.5", "Room A")
	if !errors.Is(err, ErrTokenMismatch) || !IsDeviceCommunication(err) {
		t.Fatalf("Provision() error = %v, want ErrTokenMismatch", err)
	}
	if n := f.cubeCount(t); n != 0 {
		t.Errorf("cubes = %d, want 0", n)
	}
}

func TestProvision_EchoedTokenAccepted(t *testing.T) {
	f := newProvisionFixture(t)
	f.device.reply = func(req ConfigureRequest) (*ConfigureResponse, error) {
		return &ConfigureResponse{
			Sensors:   []cube.SensorAssignment{{Type: "temp", ScanInterval: 60}},
			Actuators: []string{"led"},
			Token:     req.Token,
		}, nil
	}

	if _, err := f.prov.Provision(context.Background(), "10.0.0.5", "Room A"); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
}

func TestProvision_RejectedCapabilities(t *testing.T) {
	tests := []struct {
		name      string
		sensors   []cube.SensorAssignment
		actuators []string
	}{
		{"unknown sensor type", []cube.SensorAssignment{{Type: "radiation", ScanInterval: 60}}, []string{"led"}},
		{"zero interval", []cube.SensorAssignment{{Type: "temp", ScanInterval: 0}}, []string{"led"}},
		{"no actuators", []cube.SensorAssignment{{Type: "temp", ScanInterval: 60}}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newProvisionFixture(t)
			f.device.reply = replyWith(tt.sensors, tt.actuators)

			a, err := f.prov.Provision(context.Background(), "10.0.0.5", "Room A")
			if !cube.IsValidation(err) {
				t.Fatalf("Provision() error = %v, want ValidationError", err)
			}
			assertStates(t, a, StateRequested, StateAcknowledged, StateFailed)
			if n := f.cubeCount(t); n != 0 {
				t.Errorf("cubes = %d, want 0", n)
			}
		})
	}
}

func TestProvision_SubscribeFailureCompensates(t *testing.T) {
	f := newProvisionFixture(t)
	f.broker.err = errors.New("broker gone")

	a, err := f.prov.Provision(context.Background(), "10.0.0.5", "Room A")
	if err == nil {
		t.Fatal("Provision() should fail when the subscription fails")
	}
	assertStates(t, a, StateRequested, StateAcknowledged, StateFailed)

	if n := f.cubeCount(t); n != 0 {
		t.Errorf("cubes = %d, want 0 after compensation", n)
	}
	if _, err := f.tokens.Validate(context.Background(), f.device.calls[0].Req.Token); !errors.Is(err, auth.ErrTokenInvalid) {
		t.Errorf("device token should be removed, Validate() error = %v", err)
	}
}

// cancelOnSubscribe cancels the caller's context once the subscription is
// in place, like a client hanging up mid-request.
type cancelOnSubscribe struct {
	Subscriber
	cancel context.CancelFunc
}

func (s cancelOnSubscribe) SubscribeForCube(id string) error {
	err := s.Subscriber.SubscribeForCube(id)
	s.cancel()
	return err
}

func TestProvision_CallerCancelledAfterSubscribe(t *testing.T) {
	f := newProvisionFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router := f.prov.subscriber
	f.prov.subscriber = cancelOnSubscribe{Subscriber: router, cancel: cancel}

	a, err := f.prov.Provision(ctx, "10.0.0.5", "Room A")
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	assertStates(t, a, StateRequested, StateAcknowledged, StatePersisted)
	if a.Cube == nil || a.Cube.ID != a.CubeID {
		t.Errorf("Cube = %+v, want snapshot of %s", a.Cube, a.CubeID)
	}
	if n := f.cubeCount(t); n != 1 {
		t.Errorf("cubes = %d, want 1", n)
	}
}

// brokenSnapshot fails the read-back after a successful insert.
type brokenSnapshot struct {
	Registry
}

func (brokenSnapshot) GetCube(context.Context, string) (*cube.Cube, error) {
	return nil, &cube.StorageError{Op: "get cube", Err: errors.New("disk I/O error")}
}

func TestProvision_SnapshotFailureCompensates(t *testing.T) {
	f := newProvisionFixture(t)
	f.prov.registry = brokenSnapshot{Registry: f.registry}

	a, err := f.prov.Provision(context.Background(), "10.0.0.5", "Room A")
	if err == nil {
		t.Fatal("Provision() should fail when the cube cannot be read back")
	}
	assertStates(t, a, StateRequested, StateAcknowledged, StateFailed)

	if n := f.cubeCount(t); n != 0 {
		t.Errorf("cubes = %d, want 0 after compensation", n)
	}
	if subs := f.broker.subscribed(); len(subs) != 0 {
		t.Errorf("subscriptions = %v, want none after compensation", subs)
	}
	if _, err := f.tokens.Validate(context.Background(), f.device.calls[0].Req.Token); !errors.Is(err, auth.ErrTokenInvalid) {
		t.Errorf("device token should be removed, Validate() error = %v", err)
	}
}
