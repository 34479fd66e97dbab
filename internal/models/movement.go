package models

import "time"

// Movement is a planned or executed relocation of wagons. IsPlanned mirrors
// ScheduledAt > now and is refreshed on write and by the sweep.
type Movement struct {
	ID            uint         `gorm:"primaryKey;autoIncrement"`
	Kind          MovementKind `gorm:"size:16;not null;index"`
	ScheduledAt   time.Time    `gorm:"not null;index"`
	SourceTrackID *uint        `gorm:"index"`
	DestTrackID   *uint        `gorm:"index"`
	IsPlanned     bool         `gorm:"not null;index"`
	Note          string       `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Wagons []MovementWagon `gorm:"foreignKey:MovementID"`
}

// WagonIDs returns the ids of the wagons carried by the movement.
func (m Movement) WagonIDs() []uint {
	ids := make([]uint, len(m.Wagons))
	for i, mw := range m.Wagons {
		ids[i] = mw.WagonID
	}
	return ids
}

// MovementWagon links a movement to a wagon it carries.
type MovementWagon struct {
	MovementID uint `gorm:"primaryKey"`
	WagonID    uint `gorm:"primaryKey;index"`
}

// MovementEvent is one immutable ledger entry: a wagon arriving on TrackID
// from PreviousTrackID. A nil TrackID means the wagon left the yard.
// Events of a deleted movement keep DetachedFrom and lose MovementID.
type MovementEvent struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	WagonID         uint      `gorm:"not null;index:idx_event_wagon_time"`
	OccurredAt      time.Time `gorm:"not null;index:idx_event_wagon_time"`
	Kind            EventKind `gorm:"size:16;not null"`
	TrackID         *uint     `gorm:"index"`
	PreviousTrackID *uint     `gorm:"index"`
	MovementID      *uint     `gorm:"index"`
	DetachedFrom    *uint     `gorm:"index"`
	Note            string    `gorm:"size:256"`
	CreatedAt       time.Time
}
