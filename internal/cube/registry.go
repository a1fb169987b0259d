package cube

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/CovCube/server/internal/infrastructure/mqtt"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Catalog answers whether capability types may be assigned to cubes.
type Catalog interface {
	SensorTypeActive(ctx context.Context, name string) (bool, error)
	ActuatorTypeActive(ctx context.Context, name string) (bool, error)
}

// DeviceNotifier pushes configuration changes to a cube's management
// endpoint. Failures are reported but never undo stored state.
type DeviceNotifier interface {
	NotifyScanInterval(ctx context.Context, ip, sensorType string, interval int) error
	NotifyLocation(ctx context.Context, ip, location string) error
}

// Registry owns cube records and their sensor and actuator assignments.
// Updates go through the reconciliation in reconcile.go.
//
// All public methods are safe for concurrent use.
type Registry struct {
	repo     Repository
	catalog  Catalog
	notifier DeviceNotifier
	events   events
	logger   Logger
}

// NewRegistry creates a registry backed by repo. Referenced capability
// types are checked against catalog.
func NewRegistry(repo Repository, catalog Catalog) *Registry {
	return &Registry{
		repo:    repo,
		catalog: catalog,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetNotifier sets the device notifier used after updates.
func (r *Registry) SetNotifier(n DeviceNotifier) {
	r.notifier = n
}

// SetEventPublisher sets where lifecycle events are published.
func (r *Registry) SetEventPublisher(p EventPublisher) {
	r.events.setPublisher(p)
}

// AddListener registers an in-process lifecycle event listener.
func (r *Registry) AddListener(l EventListener) {
	r.events.addListener(l)
}

// ListCubes returns all cubes ordered by location with numbers compared by value.
func (r *Registry) ListCubes(ctx context.Context) ([]Cube, error) {
	cubes, err := r.repo.List(ctx)
	if err != nil {
		return nil, storageErr("list cubes", err)
	}
	sortByLocation(cubes)
	return cubes, nil
}

// GetCube returns ErrNotFound for a malformed or unknown id.
func (r *Registry) GetCube(ctx context.Context, id string) (*Cube, error) {
	if !IsValidID(id) {
		return nil, ErrNotFound
	}
	c, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, storageErr("get cube", err)
	}
	return c, nil
}

// CubeIDs returns the ids of all registered cubes.
func (r *Registry) CubeIDs(ctx context.Context) ([]string, error) {
	ids, err := r.repo.IDs(ctx)
	if err != nil {
		return nil, storageErr("list cube ids", err)
	}
	return ids, nil
}

// AddCube validates and stores a new cube with its assignments.
// Every referenced type must exist and be active in the catalog.
func (r *Registry) AddCube(ctx context.Context, id, ip, location string, sensors []SensorAssignment, actuators []string) error {
	if err := ValidateNewCube(id, ip, location, sensors, actuators); err != nil {
		return err
	}

	c := &Cube{
		ID:        id,
		IP:        strings.TrimSpace(ip),
		Location:  strings.TrimSpace(location),
		Sensors:   make([]SensorAssignment, 0, len(sensors)),
		Actuators: make([]string, 0, len(actuators)),
	}
	seen := make(map[string]struct{})
	for _, s := range sensors {
		s.Type = strings.TrimSpace(s.Type)
		if _, dup := seen["s:"+s.Type]; dup {
			return Invalid("sensors", "duplicate sensor type "+s.Type)
		}
		seen["s:"+s.Type] = struct{}{}
		c.Sensors = append(c.Sensors, s)
	}
	for _, a := range actuators {
		a = strings.TrimSpace(a)
		if _, dup := seen["a:"+a]; dup {
			return Invalid("actuators", "duplicate actuator type "+a)
		}
		seen["a:"+a] = struct{}{}
		c.Actuators = append(c.Actuators, a)
	}

	if err := r.checkCatalog(ctx, c.Sensors, c.Actuators); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, c); err != nil {
		return storageErr("add cube", err)
	}

	r.logger.Info("cube added", "id", c.ID, "location", c.Location,
		"sensors", len(c.Sensors), "actuators", len(c.Actuators))
	r.events.emit(r.logger, mqtt.ActionCreate, c.ID, c.Clone())
	return nil
}

// UpdateCube applies a new location and reconciles the cube's assignments
// with v, then notifies the device of changed scan intervals and location.
//
// Types not yet assigned to the cube must be active in the catalog; an
// unknown type rejects the whole update before anything is written.
// Notification failures are counted in the result and logged.
// Repeating an update with the same target writes nothing.
func (r *Registry) UpdateCube(ctx context.Context, id string, v Variables) (*UpdateResult, error) {
	if !IsValidID(id) {
		return nil, ErrNotFound
	}
	if err := validateSensors(v.Sensors, true); err != nil {
		return nil, err
	}

	current, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, storageErr("get cube", err)
	}

	plan := Diff(current, v)
	location := strings.TrimSpace(v.Location)
	if location == "" {
		location = current.Location
	}
	locationChanged := location != current.Location

	result := &UpdateResult{Plan: plan, LocationChanged: locationChanged}

	if plan.Empty() && !locationChanged {
		r.logger.Debug("cube update is a no-op", "id", id)
		result.Cube = current
		return result, nil
	}

	if err := r.checkCatalog(ctx, plan.AddSensors, plan.AddActuators); err != nil {
		return nil, err
	}

	if err := r.repo.Apply(ctx, id, location, plan); err != nil {
		return nil, storageErr("update cube", err)
	}

	result.NotifyFailures = r.notifyDevice(ctx, current.IP, plan, location, locationChanged)

	updated, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, storageErr("get cube", err)
	}
	result.Cube = updated

	r.logger.Info("cube updated", "id", id,
		"added_sensors", len(plan.AddSensors),
		"updated_sensors", len(plan.UpdateSensors),
		"removed_sensors", len(plan.RemoveSensors),
		"added_actuators", len(plan.AddActuators),
		"removed_actuators", len(plan.RemoveActuators),
		"notify_failures", result.NotifyFailures,
	)
	r.events.emit(r.logger, mqtt.ActionUpdate, id, updated.Clone())
	return result, nil
}

// notifyDevice pushes changed scan intervals and location to the cube and
// returns the number of failed notifications.
func (r *Registry) notifyDevice(ctx context.Context, ip string, plan Plan, location string, locationChanged bool) int {
	if r.notifier == nil || ip == "" {
		return 0
	}

	failures := 0
	for _, s := range plan.UpdateSensors {
		if err := r.notifier.NotifyScanInterval(ctx, ip, s.Type, s.ScanInterval); err != nil {
			failures++
			r.logger.Warn("scan interval not delivered to cube, device out of sync",
				"ip", ip, "sensor_type", s.Type, "scan_interval", s.ScanInterval, "error", err)
		}
	}
	if locationChanged {
		if err := r.notifier.NotifyLocation(ctx, ip, location); err != nil {
			failures++
			r.logger.Warn("location not delivered to cube, device out of sync",
				"ip", ip, "error", err)
		}
	}
	return failures
}

// DeleteCube removes a cube with its assignments and telemetry.
// Returns ErrNotFound when it does not exist.
func (r *Registry) DeleteCube(ctx context.Context, id string) error {
	if !IsValidID(id) {
		return ErrNotFound
	}
	if err := r.repo.Delete(ctx, id); err != nil {
		return storageErr("delete cube", err)
	}

	r.logger.Info("cube deleted", "id", id)
	r.events.emit(r.logger, mqtt.ActionDelete, id, nil)
	return nil
}

// checkCatalog rejects any type that is unknown or inactive.
func (r *Registry) checkCatalog(ctx context.Context, sensors []SensorAssignment, actuators []string) error {
	if r.catalog == nil {
		return errors.New("cube registry has no catalog")
	}
	for _, s := range sensors {
		ok, err := r.catalog.SensorTypeActive(ctx, s.Type)
		if err != nil {
			return storageErr("check sensor type", fmt.Errorf("looking up sensor type %s: %w", s.Type, err))
		}
		if !ok {
			return Invalid("sensors", "unknown sensor type "+s.Type)
		}
	}
	for _, a := range actuators {
		ok, err := r.catalog.ActuatorTypeActive(ctx, a)
		if err != nil {
			return storageErr("check actuator type", fmt.Errorf("looking up actuator type %s: %w", a, err))
		}
		if !ok {
			return Invalid("actuators", "unknown actuator type "+a)
		}
	}
	return nil
}
