package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/CovCube/server/internal/cube"
	"github.com/CovCube/server/internal/infrastructure/database"
)

// Repository persists readings in the two partitions.
type Repository interface {
	// Insert appends the record and sets its ID. Returns cube.ErrNotFound
	// when the cube does not exist.
	Insert(ctx context.Context, r *Record) error

	// Query returns matching records of one partition ordered by
	// timestamp, then id.
	Query(ctx context.Context, p Partition, f Filter) ([]Record, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func tableFor(p Partition) string {
	if p == PartitionAlphanumeric {
		return "alphanumeric_data"
	}
	return "numeric_data"
}

// Insert stores a reading in the partition recorded on r.
func (s *SQLiteRepository) Insert(ctx context.Context, r *Record) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO `+tableFor(r.Partition)+` (sensor_type, cube_id, timestamp, data) VALUES (?, ?, ?, ?)`,
		r.SensorType, r.CubeID, formatTimestamp(r.Timestamp), r.Data)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return fmt.Errorf("cube %s: %w", r.CubeID, cube.ErrNotFound)
		}
		return fmt.Errorf("inserting reading: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted id: %w", err)
	}
	r.ID = id
	return nil
}

// Query builds a WHERE clause from the set filter fields only.
func (s *SQLiteRepository) Query(ctx context.Context, p Partition, f Filter) ([]Record, error) {
	var (
		conds []string
		args  []any
	)
	if f.SensorType != "" {
		conds = append(conds, "sensor_type = ?")
		args = append(args, f.SensorType)
	}
	if f.CubeID != "" {
		conds = append(conds, "cube_id = ?")
		args = append(args, f.CubeID)
	}
	if f.Start != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, formatTimestamp(*f.Start))
	}
	if f.End != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, formatTimestamp(*f.End))
	}

	query := `SELECT id, sensor_type, cube_id, timestamp, data FROM ` + tableFor(p)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s readings: %w", p, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec := Record{Partition: p}
		var ts string
		var numeric float64
		var text string
		dest := []any{&rec.ID, &rec.SensorType, &rec.CubeID, &ts, &text}
		if p == PartitionNumeric {
			dest[4] = &numeric
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		rec.Timestamp, err = time.Parse(timestampLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing stored timestamp %q: %w", ts, err)
		}
		if p == PartitionNumeric {
			rec.Data = numeric
		} else {
			rec.Data = text
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return records, nil
}
