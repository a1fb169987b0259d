package telemetry

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/CovCube/server/internal/cube"
)

// Logger defines the logging interface used by this package.
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

// Mirror receives a copy of every stored reading. *influxdb.Client
// satisfies it. Writes are fire-and-forget.
type Mirror interface {
	WriteNumeric(cubeID, sensorType string, value float64, ts time.Time)
	WriteText(cubeID, sensorType, text string, ts time.Time)
}

// Listener is called with every stored reading.
type Listener func(Record)

// Store records and queries telemetry.
type Store struct {
	repo   Repository
	logger Logger
	now    func() time.Time

	mu        sync.RWMutex
	mirror    Mirror
	listeners []Listener
}

// NewStore creates a telemetry store backed by repo.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:   repo,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// SetMirror sets the secondary time-series sink.
func (s *Store) SetMirror(m Mirror) {
	s.mu.Lock()
	s.mirror = m
	s.mu.Unlock()
}

// AddListener registers a callback for stored readings.
func (s *Store) AddListener(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// MaxTextLength bounds alphanumeric payloads in bytes.
const MaxTextLength = 64

// RecordReading stamps the reading with the current UTC time and appends
// it to the partition chosen by its sensor type. Numeric readings must
// parse as a finite number; alphanumeric readings are capped at
// MaxTextLength bytes.
func (s *Store) RecordReading(ctx context.Context, sensorType, cubeID, data string) (Record, error) {
	sensorType = strings.TrimSpace(sensorType)
	data = strings.TrimSpace(data)

	if sensorType == "" {
		return Record{}, cube.Invalid("sensorType", "must not be blank")
	}
	if !cube.IsValidID(cubeID) {
		return Record{}, cube.Invalid("cubeId", "must be a UUID")
	}
	if data == "" {
		return Record{}, cube.Invalid("data", "must not be blank")
	}

	rec := Record{
		SensorType: sensorType,
		CubeID:     cubeID,
		Timestamp:  s.now().UTC(),
		Partition:  PartitionFor(sensorType),
	}
	if rec.Partition == PartitionNumeric {
		v, err := strconv.ParseFloat(data, 64)
		if err != nil {
			return Record{}, cube.Invalid("data", "reading for "+sensorType+" must be numeric")
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Record{}, cube.Invalid("data", "reading for "+sensorType+" must be finite")
		}
		rec.Data = v
	} else {
		if len(data) > MaxTextLength {
			return Record{}, cube.Invalid("data", "reading for "+sensorType+" exceeds "+strconv.Itoa(MaxTextLength)+" bytes")
		}
		rec.Data = data
	}

	if err := s.repo.Insert(ctx, &rec); err != nil {
		if errors.Is(err, cube.ErrNotFound) {
			return Record{}, err
		}
		return Record{}, &cube.StorageError{Op: "record reading", Err: err}
	}

	s.fanOut(rec)
	return rec, nil
}

func (s *Store) fanOut(rec Record) {
	s.mu.RLock()
	mirror := s.mirror
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()

	if mirror != nil {
		switch v := rec.Data.(type) {
		case float64:
			mirror.WriteNumeric(rec.CubeID, rec.SensorType, v, rec.Timestamp)
		case string:
			mirror.WriteText(rec.CubeID, rec.SensorType, v, rec.Timestamp)
		}
	}
	for _, l := range listeners {
		l(rec)
	}
}

// QueryReadings returns readings matching every set filter field: numeric
// readings first, then alphanumeric, each in timestamp order.
func (s *Store) QueryReadings(ctx context.Context, f Filter) ([]Record, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	records := []Record{}
	for _, p := range []Partition{PartitionNumeric, PartitionAlphanumeric} {
		// A sensor type filter can only match one partition.
		if f.SensorType != "" && PartitionFor(f.SensorType) != p {
			continue
		}
		part, err := s.repo.Query(ctx, p, f)
		if err != nil {
			return nil, &cube.StorageError{Op: "query readings", Err: err}
		}
		records = append(records, part...)
	}
	return records, nil
}
