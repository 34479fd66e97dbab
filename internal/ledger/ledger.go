// Package ledger is the append-only log of wagon movement events. It is the
// source of truth for where a wagon is; the wagons.current_track_id column is
// a cache refreshed from it.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/yardcap/internal/clock"
	"github.com/zulandar/yardcap/internal/models"
	"gorm.io/gorm"
)

// ErrWagonNotFound is returned when a wagon id does not exist.
var ErrWagonNotFound = errors.New("ledger: wagon not found")

// active limits a query to events that still belong to the ledger's view of
// history. Detached events are kept for audit only.
func active(db *gorm.DB) *gorm.DB {
	return db.Where("detached_from IS NULL")
}

// Append writes ev to the ledger. The timestamp is normalized to whole UTC
// seconds. Prior events are never touched.
func Append(db *gorm.DB, ev *models.MovementEvent) error {
	if ev.WagonID == 0 {
		return fmt.Errorf("ledger: append: wagon is required")
	}
	if ev.Kind == "" {
		return fmt.Errorf("ledger: append: kind is required")
	}
	if ev.OccurredAt.IsZero() {
		return fmt.Errorf("ledger: append: timestamp is required")
	}
	ev.ID = 0
	ev.OccurredAt = clock.Normalize(ev.OccurredAt)
	if err := db.Create(ev).Error; err != nil {
		return fmt.Errorf("ledger: append event for wagon %d: %w", ev.WagonID, err)
	}
	return nil
}

// History returns every event of a wagon in ledger order, detached events
// included.
func History(db *gorm.DB, wagonID uint) ([]models.MovementEvent, error) {
	var events []models.MovementEvent
	if err := db.Where("wagon_id = ?", wagonID).
		Order("occurred_at ASC, id ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("ledger: history of wagon %d: %w", wagonID, err)
	}
	return events, nil
}

// lastActive returns the latest active event of a wagon at or before t,
// skipping events of the given movements. It returns nil when none exists.
func lastActive(db *gorm.DB, wagonID uint, t time.Time, excludeMovements ...uint) (*models.MovementEvent, error) {
	q := active(db.Model(&models.MovementEvent{})).
		Where("wagon_id = ? AND occurred_at <= ?", wagonID, clock.Normalize(t))
	if len(excludeMovements) > 0 {
		q = q.Where("(movement_id IS NULL OR movement_id NOT IN ?)", excludeMovements)
	}
	var ev models.MovementEvent
	err := q.Order("occurred_at DESC, id DESC").First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: last event of wagon %d: %w", wagonID, err)
	}
	return &ev, nil
}

// PositionAt returns the track a wagon is on at t according to the ledger.
// ok is false when the wagon has no active event at or before t, in which
// case the caller decides what the absence means.
func PositionAt(db *gorm.DB, wagonID uint, t time.Time, excludeMovements ...uint) (trackID *uint, ok bool, err error) {
	ev, err := lastActive(db, wagonID, t, excludeMovements...)
	if err != nil || ev == nil {
		return nil, false, err
	}
	return ev.TrackID, true, nil
}

// EventCount returns how many active events a wagon has.
func EventCount(db *gorm.DB, wagonID uint) (int64, error) {
	var n int64
	if err := active(db.Model(&models.MovementEvent{})).
		Where("wagon_id = ?", wagonID).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("ledger: count events of wagon %d: %w", wagonID, err)
	}
	return n, nil
}

// RefreshPointer recomputes the wagon's materialized current track from the
// ledger as of now. A wagon without any event up to now keeps its pointer.
func RefreshPointer(db *gorm.DB, wagonID uint, now time.Time) error {
	trackID, ok, err := PositionAt(db, wagonID, now)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := db.Model(&models.Wagon{}).Where("id = ?", wagonID).
		Update("current_track_id", trackID).Error; err != nil {
		return fmt.Errorf("ledger: refresh pointer of wagon %d: %w", wagonID, err)
	}
	return nil
}

// ChainViolation describes why a new event does not fit a wagon's history.
type ChainViolation struct {
	WagonID uint
	At      time.Time
	Message string
}

func (v ChainViolation) Error() string { return v.Message }

// CheckChain reports whether an event moving wagonID from prev to next at t
// fits the wagon's history: the wagon must be on prev just before t and any
// later event must depart from next. A wagon without earlier history is
// accepted from any source (first-ever placement). Corrections are overrides
// and never have to chain on their own.
func CheckChain(db *gorm.DB, wagonID uint, t time.Time, prev, next *uint, excludeMovements ...uint) (*ChainViolation, error) {
	t = clock.Normalize(t)
	before, err := lastActive(db, wagonID, t, excludeMovements...)
	if err != nil {
		return nil, err
	}
	if before != nil && !sameTrack(before.TrackID, prev) {
		return &ChainViolation{
			WagonID: wagonID,
			At:      t,
			Message: fmt.Sprintf("wagon %d is %s at %s, not %s", wagonID,
				describe(before.TrackID), t.Format(time.RFC3339), describe(prev)),
		}, nil
	}

	after, err := NextEvent(db, wagonID, t, excludeMovements...)
	if err != nil || after == nil {
		return nil, err
	}
	if !sameTrack(after.PreviousTrackID, next) {
		return &ChainViolation{
			WagonID: wagonID,
			At:      t,
			Message: fmt.Sprintf("wagon %d leaves %s at %s, which conflicts with ending %s at %s",
				wagonID, describe(after.PreviousTrackID), after.OccurredAt.UTC().Format(time.RFC3339),
				describe(next), t.Format(time.RFC3339)),
		}, nil
	}
	return nil, nil
}

// NextEvent returns the first active event of a wagon strictly after t,
// skipping corrections and events of the given movements. It returns nil
// when the wagon has no later event.
func NextEvent(db *gorm.DB, wagonID uint, t time.Time, excludeMovements ...uint) (*models.MovementEvent, error) {
	q := active(db.Model(&models.MovementEvent{})).
		Where("wagon_id = ? AND occurred_at > ? AND kind <> ?", wagonID, clock.Normalize(t), models.EventCorrection)
	if len(excludeMovements) > 0 {
		q = q.Where("(movement_id IS NULL OR movement_id NOT IN ?)", excludeMovements)
	}
	var ev models.MovementEvent
	err := q.Order("occurred_at ASC, id ASC").First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: next event of wagon %d: %w", wagonID, err)
	}
	return &ev, nil
}

func sameTrack(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func describe(trackID *uint) string {
	if trackID == nil {
		return "off the yard"
	}
	return fmt.Sprintf("on track %d", *trackID)
}
