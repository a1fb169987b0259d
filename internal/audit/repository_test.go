package audit

import (
	"context"
	"testing"
	"time"

	"github.com/CovCube/server/internal/infrastructure/database/databasetest"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo := NewSQLiteRepository(databasetest.New(t).DB)

	// Strictly increasing timestamps keep the ordering deterministic.
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	repo.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return repo
}

func TestRecordAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	entries := []*Entry{
		{Action: ActionCreate, EntityType: EntityCube, EntityID: "c1", Actor: "admin",
			Details: map[string]any{"ip": "10.0.0.5", "location": "Lab"}},
		{Action: ActionUpdate, EntityType: EntityCube, EntityID: "c1", Actor: "admin"},
		{Action: ActionCreate, EntityType: EntityToken, EntityID: "ab12cd34", Actor: "admin"},
		{Action: ActionDelete, EntityType: EntityCube, EntityID: "c1", Actor: "cube:c2"},
	}
	for _, e := range entries {
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		if e.ID == "" || e.CreatedAt.IsZero() {
			t.Errorf("Record() did not fill ID and CreatedAt: %+v", e)
		}
	}

	page, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 4 || len(page.Entries) != 4 || page.Limit != defaultLimit {
		t.Fatalf("page = total %d, %d entries, limit %d", page.Total, len(page.Entries), page.Limit)
	}
	if page.Entries[0].Action != ActionDelete || page.Entries[3].Action != ActionCreate {
		t.Errorf("entries not newest first: %s ... %s", page.Entries[0].Action, page.Entries[3].Action)
	}
	if got := page.Entries[3].Details["location"]; got != "Lab" {
		t.Errorf("details location = %v, want Lab", got)
	}
	if !page.Entries[0].CreatedAt.Equal(entries[3].CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", page.Entries[0].CreatedAt, entries[3].CreatedAt)
	}
}

func TestList_Filters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, e := range []*Entry{
		{Action: ActionCreate, EntityType: EntityCube, EntityID: "c1", Actor: "admin"},
		{Action: ActionCreate, EntityType: EntityCube, EntityID: "c2", Actor: "admin"},
		{Action: ActionDeactivate, EntityType: EntitySensorType, EntityID: "co2", Actor: "admin"},
		{Action: ActionDelete, EntityType: EntityCube, EntityID: "c1", Actor: "admin"},
	} {
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		total  int
		count  int
	}{
		{"by action", Filter{Action: ActionCreate}, 2, 2},
		{"by entity type", Filter{EntityType: EntityCube}, 3, 3},
		{"by entity", Filter{EntityType: EntityCube, EntityID: "c1"}, 2, 2},
		{"conjunction", Filter{Action: ActionDelete, EntityID: "c2"}, 0, 0},
		{"paged", Filter{Limit: 1, Offset: 1}, 4, 1},
		{"past the end", Filter{Offset: 10}, 4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if page.Total != tt.total || len(page.Entries) != tt.count {
				t.Errorf("total = %d, entries = %d; want %d, %d", page.Total, len(page.Entries), tt.total, tt.count)
			}
		})
	}
}

func TestList_LimitClamped(t *testing.T) {
	repo := newTestRepo(t)

	page, err := repo.List(context.Background(), Filter{Limit: 1000, Offset: -3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Limit != maxLimit || page.Offset != 0 {
		t.Errorf("limit = %d, offset = %d; want %d, 0", page.Limit, page.Offset, maxLimit)
	}
	if page.Entries == nil {
		t.Error("Entries should be an empty slice, not nil")
	}
}

func TestRecord_Rejects(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.Record(context.Background(), &Entry{EntityType: EntityCube}); err == nil {
		t.Error("Record() without an action should fail")
	}
	if err := repo.Record(context.Background(), &Entry{Action: ActionCreate}); err == nil {
		t.Error("Record() without an entity type should fail")
	}
}
