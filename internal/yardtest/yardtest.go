// Package yardtest holds fixtures shared by package tests: an in-memory
// store and helpers that write tracks, wagons and movements directly.
package yardtest

import (
	"testing"
	"time"

	"github.com/zulandar/yardcap/internal/clock"
	"github.com/zulandar/yardcap/internal/db"
	"github.com/zulandar/yardcap/internal/models"
	"gorm.io/gorm"
)

// Base is the reference "now" used by most tests.
var Base = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

// Open returns a migrated in-memory SQLite database.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	gormDB, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gormDB
}

// Ptr returns a pointer to id, or nil for 0.
func Ptr(id uint) *uint {
	if id == 0 {
		return nil
	}
	return &id
}

// Track creates a track. Length 0 is unlimited.
func Track(t testing.TB, gormDB *gorm.DB, name string, length int) models.Track {
	t.Helper()
	tr := models.Track{Name: name, Length: length}
	if err := gormDB.Create(&tr).Error; err != nil {
		t.Fatalf("create track %s: %v", name, err)
	}
	return tr
}

// Wagon creates an unplaced wagon. An empty number leaves it unnumbered.
func Wagon(t testing.TB, gormDB *gorm.DB, number string, length int) models.Wagon {
	t.Helper()
	w := models.Wagon{Length: length, Content: "ballast"}
	if number != "" {
		w.Number = &number
	}
	if err := gormDB.Create(&w).Error; err != nil {
		t.Fatalf("create wagon %s: %v", number, err)
	}
	return w
}

// Place writes an initial-placement event and points the wagon at the track.
func Place(t testing.TB, gormDB *gorm.DB, w *models.Wagon, trackID uint, at time.Time) {
	t.Helper()
	ev := models.MovementEvent{
		WagonID:    w.ID,
		OccurredAt: clock.Normalize(at),
		Kind:       models.EventInitial,
		TrackID:    Ptr(trackID),
	}
	if err := gormDB.Create(&ev).Error; err != nil {
		t.Fatalf("place wagon %d: %v", w.ID, err)
	}
	w.CurrentTrackID = Ptr(trackID)
	if err := gormDB.Model(w).Update("current_track_id", trackID).Error; err != nil {
		t.Fatalf("point wagon %d: %v", w.ID, err)
	}
}

// Move writes a movement with its junction rows and ledger events, bypassing
// validation. src and dst of 0 mean "none". Wagon pointers follow the
// movement when it is not in the future relative to now.
func Move(t testing.TB, gormDB *gorm.DB, kind models.MovementKind, at, now time.Time, src, dst uint, wagons ...models.Wagon) models.Movement {
	t.Helper()
	at = clock.Normalize(at)
	m := models.Movement{
		Kind:          kind,
		ScheduledAt:   at,
		SourceTrackID: Ptr(src),
		DestTrackID:   Ptr(dst),
		IsPlanned:     at.After(now),
	}
	for _, w := range wagons {
		m.Wagons = append(m.Wagons, models.MovementWagon{WagonID: w.ID})
	}
	if err := gormDB.Create(&m).Error; err != nil {
		t.Fatalf("create movement: %v", err)
	}
	evKind, err := models.EventKindFor(kind)
	if err != nil {
		t.Fatalf("event kind: %v", err)
	}
	for _, w := range wagons {
		mid := m.ID
		ev := models.MovementEvent{
			WagonID:         w.ID,
			OccurredAt:      at,
			Kind:            evKind,
			TrackID:         Ptr(dst),
			PreviousTrackID: Ptr(src),
			MovementID:      &mid,
		}
		if err := gormDB.Create(&ev).Error; err != nil {
			t.Fatalf("create event: %v", err)
		}
		if !m.IsPlanned {
			if err := gormDB.Model(&models.Wagon{}).Where("id = ?", w.ID).
				Update("current_track_id", Ptr(dst)).Error; err != nil {
				t.Fatalf("point wagon %d: %v", w.ID, err)
			}
		}
	}
	return m
}

// Reload returns the stored state of a wagon.
func Reload(t testing.TB, gormDB *gorm.DB, wagonID uint) models.Wagon {
	t.Helper()
	var w models.Wagon
	if err := gormDB.First(&w, wagonID).Error; err != nil {
		t.Fatalf("reload wagon %d: %v", wagonID, err)
	}
	return w
}
