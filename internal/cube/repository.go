package cube

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/CovCube/server/internal/infrastructure/database"
)

// Repository defines the persistence operations for cubes.
type Repository interface {
	// List returns every cube with its assignments, in no particular order.
	List(ctx context.Context) ([]Cube, error)

	// GetByID returns ErrNotFound if the cube does not exist.
	GetByID(ctx context.Context, id string) (*Cube, error)

	// IDs returns the identifiers of all cubes.
	IDs(ctx context.Context) ([]string, error)

	// Create writes the cube and all its assignments atomically.
	// Returns ErrAlreadyExists on a duplicate id.
	Create(ctx context.Context, c *Cube) error

	// Apply sets the location and applies plan in one transaction.
	// Returns ErrNotFound if the cube does not exist.
	Apply(ctx context.Context, id, location string, plan Plan) error

	// Delete removes the cube; assignments and telemetry cascade.
	// Returns ErrNotFound if the cube does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List retrieves all cubes. Assignments are loaded with one query per
// relation rather than one per cube.
func (r *SQLiteRepository) List(ctx context.Context) ([]Cube, error) {
	cubes, err := r.queryCubes(ctx, `SELECT id, ip, location FROM cubes`)
	if err != nil {
		return nil, err
	}

	sensors, err := r.querySensors(ctx,
		`SELECT cube_id, sensor_type, scan_interval FROM cube_sensors ORDER BY sensor_type`)
	if err != nil {
		return nil, err
	}
	actuators, err := r.queryActuators(ctx,
		`SELECT cube_id, actuator_type FROM cube_actuators ORDER BY actuator_type`)
	if err != nil {
		return nil, err
	}

	for i := range cubes {
		cubes[i].Sensors = nonNilSensors(sensors[cubes[i].ID])
		cubes[i].Actuators = nonNilStrings(actuators[cubes[i].ID])
	}
	return cubes, nil
}

// GetByID assembles a cube from its base row and both junction tables.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Cube, error) {
	cubes, err := r.queryCubes(ctx, `SELECT id, ip, location FROM cubes WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(cubes) == 0 {
		return nil, ErrNotFound
	}
	c := cubes[0]

	sensors, err := r.querySensors(ctx,
		`SELECT cube_id, sensor_type, scan_interval FROM cube_sensors WHERE cube_id = ? ORDER BY sensor_type`, id)
	if err != nil {
		return nil, err
	}
	actuators, err := r.queryActuators(ctx,
		`SELECT cube_id, actuator_type FROM cube_actuators WHERE cube_id = ? ORDER BY actuator_type`, id)
	if err != nil {
		return nil, err
	}

	c.Sensors = nonNilSensors(sensors[c.ID])
	c.Actuators = nonNilStrings(actuators[c.ID])
	return &c, nil
}

// IDs returns all cube identifiers.
func (r *SQLiteRepository) IDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM cubes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying cube ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning cube id: %w", err)
		}
		ids = append(ids, trimPadding(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cube ids: %w", err)
	}
	return ids, nil
}

// Create inserts the cube row and every assignment in one transaction.
func (r *SQLiteRepository) Create(ctx context.Context, c *Cube) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO cubes (id, ip, location, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.IP, c.Location, now, now)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting cube: %w", err)
	}

	if err := insertSensors(ctx, tx, c.ID, c.Sensors); err != nil {
		return err
	}
	if err := insertActuators(ctx, tx, c.ID, c.Actuators); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Apply updates the location and applies the plan atomically.
func (r *SQLiteRepository) Apply(ctx context.Context, id, location string, plan Plan) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	res, err := tx.ExecContext(ctx,
		`UPDATE cubes SET location = ?, updated_at = ? WHERE id = ?`,
		location, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating cube: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	} else if n == 0 {
		return ErrNotFound
	}

	for _, name := range plan.RemoveSensors {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cube_sensors WHERE cube_id = ? AND sensor_type = ?`, id, name); err != nil {
			return fmt.Errorf("removing sensor %s: %w", name, err)
		}
	}
	for _, s := range plan.UpdateSensors {
		if _, err := tx.ExecContext(ctx,
			`UPDATE cube_sensors SET scan_interval = ? WHERE cube_id = ? AND sensor_type = ?`,
			s.ScanInterval, id, s.Type); err != nil {
			return fmt.Errorf("updating sensor %s: %w", s.Type, err)
		}
	}
	if err := insertSensors(ctx, tx, id, plan.AddSensors); err != nil {
		return err
	}

	for _, name := range plan.RemoveActuators {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cube_actuators WHERE cube_id = ? AND actuator_type = ?`, id, name); err != nil {
			return fmt.Errorf("removing actuator %s: %w", name, err)
		}
	}
	if err := insertActuators(ctx, tx, id, plan.AddActuators); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Delete removes a cube.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cubes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting cube: %w", err)
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

func insertSensors(ctx context.Context, tx *sql.Tx, cubeID string, sensors []SensorAssignment) error {
	for _, s := range sensors {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cube_sensors (cube_id, sensor_type, scan_interval) VALUES (?, ?, ?)`,
			cubeID, s.Type, s.ScanInterval)
		if err != nil {
			return assignmentError("sensor", s.Type, err)
		}
	}
	return nil
}

func insertActuators(ctx context.Context, tx *sql.Tx, cubeID string, actuators []string) error {
	for _, a := range actuators {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cube_actuators (cube_id, actuator_type) VALUES (?, ?)`, cubeID, a)
		if err != nil {
			return assignmentError("actuator", a, err)
		}
	}
	return nil
}

// assignmentError maps constraint failures on junction rows to validation
// errors and wraps everything else.
func assignmentError(kind, name string, err error) error {
	switch {
	case database.IsForeignKeyViolation(err):
		return Invalid(kind+"s", "unknown "+kind+" type "+name)
	case database.IsUniqueViolation(err):
		return Invalid(kind+"s", "duplicate "+kind+" type "+name)
	}
	return fmt.Errorf("inserting %s %s: %w", kind, name, err)
}

// queryCubes reads base rows only. Rows are drained before returning so the
// single connection is free for the junction queries.
func (r *SQLiteRepository) queryCubes(ctx context.Context, query string, args ...any) ([]Cube, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying cubes: %w", err)
	}
	defer rows.Close()

	var cubes []Cube
	for rows.Next() {
		var c Cube
		if err := rows.Scan(&c.ID, &c.IP, &c.Location); err != nil {
			return nil, fmt.Errorf("scanning cube: %w", err)
		}
		c.ID = trimPadding(c.ID)
		c.IP = trimPadding(c.IP)
		c.Location = trimPadding(c.Location)
		cubes = append(cubes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cubes: %w", err)
	}
	return cubes, nil
}

func (r *SQLiteRepository) querySensors(ctx context.Context, query string, args ...any) (map[string][]SensorAssignment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying cube sensors: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]SensorAssignment)
	for rows.Next() {
		var cubeID string
		var s SensorAssignment
		if err := rows.Scan(&cubeID, &s.Type, &s.ScanInterval); err != nil {
			return nil, fmt.Errorf("scanning cube sensor: %w", err)
		}
		cubeID = trimPadding(cubeID)
		s.Type = trimPadding(s.Type)
		out[cubeID] = append(out[cubeID], s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cube sensors: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) queryActuators(ctx context.Context, query string, args ...any) (map[string][]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying cube actuators: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var cubeID, name string
		if err := rows.Scan(&cubeID, &name); err != nil {
			return nil, fmt.Errorf("scanning cube actuator: %w", err)
		}
		cubeID = trimPadding(cubeID)
		out[cubeID] = append(out[cubeID], trimPadding(name))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cube actuators: %w", err)
	}
	return out, nil
}

func nonNilSensors(s []SensorAssignment) []SensorAssignment {
	if s == nil {
		return []SensorAssignment{}
	}
	return s
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
