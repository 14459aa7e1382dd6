package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the bridge tables.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// Every pooled connection would get its own in-memory database.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE arduino_devices (
			guid       TEXT PRIMARY KEY,
			grp        TEXT NOT NULL,
			vendor     INTEGER NOT NULL,
			type       INTEGER NOT NULL,
			first_seen TEXT NOT NULL,
			last_seen  TEXT NOT NULL
		) STRICT;
		CREATE TABLE arduino_flash_jobs (
			id          TEXT PRIMARY KEY,
			selector    TEXT NOT NULL,
			started_at  TEXT NOT NULL,
			finished_at TEXT,
			exit_code   INTEGER
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func testDevice(group string, vendor, typ int, seen time.Time) KnownDevice {
	d := KnownDevice{Group: group, Vendor: vendor, Type: typ, FirstSeen: seen, LastSeen: seen}
	d.GUID = d.Identity().Key()
	return d
}

func TestSQLiteRepository_Upsert(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	t0 := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	if err := repo.Upsert(ctx, testDevice("0", 0, 31, t0)); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := repo.Upsert(ctx, testDevice("0", 0, 31, t0.Add(time.Hour))); err != nil {
		t.Fatalf("Upsert() second error = %v", err)
	}

	got, err := repo.GetByGUID(ctx, "0_0_31")
	if err != nil {
		t.Fatalf("GetByGUID() error = %v", err)
	}
	if !got.FirstSeen.Equal(t0) {
		t.Errorf("FirstSeen = %v, want %v", got.FirstSeen, t0)
	}
	if !got.LastSeen.Equal(t0.Add(time.Hour)) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, t0.Add(time.Hour))
	}

	// An older sighting never moves last_seen backwards.
	if err := repo.Upsert(ctx, testDevice("0", 0, 31, t0.Add(time.Minute))); err != nil {
		t.Fatalf("Upsert() stale error = %v", err)
	}
	got, _ = repo.GetByGUID(ctx, "0_0_31")
	if !got.LastSeen.Equal(t0.Add(time.Hour)) {
		t.Errorf("LastSeen after stale upsert = %v, want %v", got.LastSeen, t0.Add(time.Hour))
	}
}

func TestSQLiteRepository_UpsertValidation(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	tests := []struct {
		name string
		dev  KnownDevice
	}{
		{name: "guid mismatch", dev: KnownDevice{GUID: "0_0_1", Group: "0", Vendor: 0, Type: 2}},
		{name: "underscore in group", dev: KnownDevice{GUID: "a_b_0_1", Group: "a_b", Vendor: 0, Type: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := repo.Upsert(ctx, tt.dev); !errors.Is(err, ErrInvalidDevice) {
				t.Errorf("Upsert() error = %v, want ErrInvalidDevice", err)
			}
		})
	}
}

func TestSQLiteRepository_List(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	now := time.Now()

	devices, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("List() on empty table = %d devices", len(devices))
	}

	for _, d := range []KnownDevice{
		testDevice("0101", 0, 11, now),
		testDevice("0", 0, 1003, now),
		testDevice("0", 0, 999, now),
	} {
		if err := repo.Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert(%s) error = %v", d.GUID, err)
		}
	}

	devices, err = repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"0101_0_11", "0_0_1003", "0_0_999"}
	if len(devices) != len(want) {
		t.Fatalf("List() = %d devices, want %d", len(devices), len(want))
	}
	for i, guid := range want {
		if devices[i].GUID != guid {
			t.Errorf("devices[%d].GUID = %s, want %s", i, devices[i].GUID, guid)
		}
	}
	if devices[0].Group != "0101" || devices[0].Type != 11 {
		t.Errorf("devices[0] = %+v, want group 0101 type 11", devices[0])
	}
}

func TestSQLiteRepository_GetByGUIDNotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	if _, err := repo.GetByGUID(context.Background(), "0_0_7"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByGUID() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_Delete(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Upsert(ctx, testDevice("0", 0, 31, time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete(ctx, "0_0_31"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "0_0_31"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second Delete() error = %v, want ErrDeviceNotFound", err)
	}
}
