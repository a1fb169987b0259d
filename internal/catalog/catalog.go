// Package catalog manages the sensor and actuator types cubes may be
// assigned. Types are never hard-deleted: deactivation keeps existing
// assignments and historical telemetry valid.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a type name does not exist.
	ErrNotFound = errors.New("catalog: type not found")

	// ErrExists is returned when adding a type that is already active.
	ErrExists = errors.New("catalog: type already exists")

	// ErrInvalidName is returned for a blank type name.
	ErrInvalidName = errors.New("catalog: type name must not be blank")
)

// DefaultPushRate is used when a sensor type is added without one.
const DefaultPushRate = 60

// SensorType is a catalog entry for a kind of sensor.
type SensorType struct {
	Name string `json:"name"`

	// PushRate is the default number of seconds between readings.
	PushRate int  `json:"pushRate"`
	Active   bool `json:"active"`
}

// ActuatorType is a catalog entry for a kind of actuator.
type ActuatorType struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Store persists both catalogs in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a catalog store on an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListSensorTypes returns active sensor types ordered by name.
func (s *Store) ListSensorTypes(ctx context.Context) ([]SensorType, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, push_rate, active FROM sensor_types WHERE active = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying sensor types: %w", err)
	}
	defer rows.Close()

	types := []SensorType{}
	for rows.Next() {
		var t SensorType
		if err := rows.Scan(&t.Name, &t.PushRate, &t.Active); err != nil {
			return nil, fmt.Errorf("scanning sensor type: %w", err)
		}
		types = append(types, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sensor types: %w", err)
	}
	return types, nil
}

// ListActuatorTypes returns active actuator types ordered by name.
func (s *Store) ListActuatorTypes(ctx context.Context) ([]ActuatorType, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, active FROM actuator_types WHERE active = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying actuator types: %w", err)
	}
	defer rows.Close()

	types := []ActuatorType{}
	for rows.Next() {
		var t ActuatorType
		if err := rows.Scan(&t.Name, &t.Active); err != nil {
			return nil, fmt.Errorf("scanning actuator type: %w", err)
		}
		types = append(types, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating actuator types: %w", err)
	}
	return types, nil
}

// AddSensorType adds a sensor type, or re-activates an inactive one with
// the new push rate. A pushRate of zero or less uses DefaultPushRate.
func (s *Store) AddSensorType(ctx context.Context, name string, pushRate int) (*SensorType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if pushRate <= 0 {
		pushRate = DefaultPushRate
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sensor_types (name, push_rate, active) VALUES (?, ?, 1)
		ON CONFLICT(name) DO UPDATE SET push_rate = excluded.push_rate, active = 1
		WHERE sensor_types.active = 0`,
		name, pushRate)
	if err != nil {
		return nil, fmt.Errorf("adding sensor type: %w", err)
	}
	if err := requireChange(res); err != nil {
		return nil, err
	}
	return &SensorType{Name: name, PushRate: pushRate, Active: true}, nil
}

// AddActuatorType adds an actuator type, or re-activates an inactive one.
func (s *Store) AddActuatorType(ctx context.Context, name string) (*ActuatorType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO actuator_types (name, active) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET active = 1
		WHERE actuator_types.active = 0`,
		name)
	if err != nil {
		return nil, fmt.Errorf("adding actuator type: %w", err)
	}
	if err := requireChange(res); err != nil {
		return nil, err
	}
	return &ActuatorType{Name: name, Active: true}, nil
}

// DeactivateSensorType marks a sensor type inactive.
func (s *Store) DeactivateSensorType(ctx context.Context, name string) error {
	return s.deactivate(ctx, "sensor_types", name)
}

// DeactivateActuatorType marks an actuator type inactive.
func (s *Store) DeactivateActuatorType(ctx context.Context, name string) error {
	return s.deactivate(ctx, "actuator_types", name)
}

// table is one of two fixed identifiers, never caller input.
func (s *Store) deactivate(ctx context.Context, table, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE `+table+` SET active = 0 WHERE name = ? AND active = 1`, name)
	if err != nil {
		return fmt.Errorf("deactivating %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SensorTypeActive reports whether name is an active sensor type.
func (s *Store) SensorTypeActive(ctx context.Context, name string) (bool, error) {
	return s.active(ctx, `SELECT active FROM sensor_types WHERE name = ?`, name)
}

// ActuatorTypeActive reports whether name is an active actuator type.
func (s *Store) ActuatorTypeActive(ctx context.Context, name string) (bool, error) {
	return s.active(ctx, `SELECT active FROM actuator_types WHERE name = ?`, name)
}

func (s *Store) active(ctx context.Context, query, name string) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx, query, name).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up type %s: %w", name, err)
	}
	return active, nil
}

// requireChange maps an upsert that touched no row (the type was already
// active) to ErrExists.
func requireChange(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}
