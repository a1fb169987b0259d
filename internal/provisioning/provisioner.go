package provisioning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CovCube/server/internal/auth"
	"github.com/CovCube/server/internal/cube"
)

// State is a step of a provisioning attempt.
type State string

// Attempt states. Failed is reachable from any other state.
const (
	StateRequested    State = "requested"
	StateAcknowledged State = "acknowledged"
	StatePersisted    State = "persisted"
	StateFailed       State = "failed"
)

// Logger defines the logging interface used by the Provisioner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the part of the device registry provisioning writes to.
type Registry interface {
	AddCube(ctx context.Context, id, ip, location string, sensors []cube.SensorAssignment, actuators []string) error
	GetCube(ctx context.Context, id string) (*cube.Cube, error)
	DeleteCube(ctx context.Context, id string) error
}

// Device performs the handshake with a cube.
type Device interface {
	Configure(ctx context.Context, ip string, req ConfigureRequest) (*ConfigureResponse, error)
}

// TokenStore keeps the token handed to each cube.
type TokenStore interface {
	Store(ctx context.Context, raw, owner string) (*auth.Token, error)
	DeleteByOwner(ctx context.Context, owner string) (int64, error)
}

// Subscriber starts and stops telemetry routing for a cube.
type Subscriber interface {
	SubscribeForCube(id string) error
	UnsubscribeCube(id string) error
}

// Transition is one entry of an attempt's state history.
type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// Attempt records the progress of one provisioning request.
type Attempt struct {
	CubeID   string       `json:"cubeId"`
	TargetIP string       `json:"targetIP"`
	Location string       `json:"location"`
	History  []Transition `json:"history"`
	Cube     *cube.Cube   `json:"cube,omitempty"`
	Err      error        `json:"-"`
}

// State returns the current state of the attempt.
func (a *Attempt) State() State {
	if len(a.History) == 0 {
		return ""
	}
	return a.History[len(a.History)-1].State
}

func (a *Attempt) moveTo(s State) {
	a.History = append(a.History, Transition{State: s, At: time.Now().UTC()})
}

// Provisioner runs the provisioning handshake and persists its outcome.
type Provisioner struct {
	registry   Registry
	device     Device
	tokens     TokenStore
	subscriber Subscriber
	broker     BrokerEndpoint
	logger     Logger
}

// New creates a Provisioner that advertises broker to new cubes.
func New(registry Registry, device Device, tokens TokenStore, subscriber Subscriber, broker BrokerEndpoint) *Provisioner {
	return &Provisioner{
		registry:   registry,
		device:     device,
		tokens:     tokens,
		subscriber: subscriber,
		broker:     broker,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the provisioner.
func (p *Provisioner) SetLogger(logger Logger) {
	p.logger = logger
}

// Provision registers the cube reachable at targetIP under location.
//
// The returned Attempt is never nil and holds the state history. On
// failure the error wraps the cause: a *cube.ValidationError for bad input
// or an unacceptable capability list, a *DeviceCommunicationError when the
// cube could not be reached or answered badly, cube.ErrAlreadyExists for
// an id collision, or a storage or subscription error.
func (p *Provisioner) Provision(ctx context.Context, targetIP, location string) (*Attempt, error) {
	a := &Attempt{TargetIP: strings.TrimSpace(targetIP), Location: strings.TrimSpace(location)}
	a.moveTo(StateRequested)

	if a.TargetIP == "" {
		return p.fail(a, cube.Invalid("targetIP", "must not be blank"))
	}
	if a.Location == "" {
		return p.fail(a, cube.Invalid("location", "must not be blank"))
	}

	a.CubeID = cube.GenerateID()
	rawToken := auth.MintToken()

	resp, err := p.device.Configure(ctx, a.TargetIP, ConfigureRequest{
		Address:  p.broker.Address,
		Port:     p.broker.Port,
		UUID:     a.CubeID,
		Location: a.Location,
		Token:    rawToken,
	})
	if err != nil {
		return p.fail(a, err)
	}
	if resp.Token != "" && resp.Token != rawToken {
		return p.fail(a, &DeviceCommunicationError{Addr: a.TargetIP, Op: "configure", Err: ErrTokenMismatch})
	}
	a.moveTo(StateAcknowledged)

	if err := p.registry.AddCube(ctx, a.CubeID, a.TargetIP, a.Location, resp.Sensors, resp.Actuators); err != nil {
		return p.fail(a, err)
	}

	owner := auth.CubeOwner(a.CubeID)
	if _, err := p.tokens.Store(ctx, rawToken, owner); err != nil {
		p.compensate(ctx, a, false)
		return p.fail(a, fmt.Errorf("storing device token: %w", err))
	}

	if err := p.subscriber.SubscribeForCube(a.CubeID); err != nil {
		p.compensate(ctx, a, true)
		return p.fail(a, fmt.Errorf("subscribing to cube telemetry: %w", err))
	}

	// Everything is stored; a caller that goes away now must not turn
	// the attempt into a half-applied failure.
	c, err := p.registry.GetCube(context.WithoutCancel(ctx), a.CubeID)
	if err != nil {
		p.unsubscribe(a)
		p.compensate(ctx, a, true)
		return p.fail(a, err)
	}
	a.Cube = c
	a.moveTo(StatePersisted)

	p.logger.Info("cube provisioned", "id", a.CubeID, "ip", a.TargetIP, "location", a.Location,
		"sensors", len(c.Sensors), "actuators", len(c.Actuators))
	return a, nil
}

// compensate removes what a failed attempt already stored. It runs on a
// context detached from the request so a cancelled caller still cleans up.
func (p *Provisioner) compensate(ctx context.Context, a *Attempt, tokenStored bool) {
	ctx = context.WithoutCancel(ctx)

	if err := p.registry.DeleteCube(ctx, a.CubeID); err != nil {
		p.logger.Error("compensation failed, cube left behind", "id", a.CubeID, "error", err)
	}
	if tokenStored {
		if _, err := p.tokens.DeleteByOwner(ctx, auth.CubeOwner(a.CubeID)); err != nil {
			p.logger.Error("compensation failed, device token left behind", "id", a.CubeID, "error", err)
		}
	}
}

func (p *Provisioner) unsubscribe(a *Attempt) {
	if err := p.subscriber.UnsubscribeCube(a.CubeID); err != nil {
		p.logger.Error("compensation failed, subscription left behind", "id", a.CubeID, "error", err)
	}
}

func (p *Provisioner) fail(a *Attempt, err error) (*Attempt, error) {
	from := a.State()
	a.Err = err
	a.moveTo(StateFailed)
	p.logger.Warn("cube provisioning failed", "ip", a.TargetIP, "id", a.CubeID,
		"state", from, "error", err)
	return a, fmt.Errorf("provisioning cube at %s: %w", a.TargetIP, err)
}
