package models

import "time"

// Node is a location that groups tracks.
type Node struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"size:64;not null;uniqueIndex"`
	CreatedAt time.Time

	Tracks []Track `gorm:"foreignKey:NodeID"`
}

// Track is a storage location for wagons. Length 0 means unlimited capacity.
type Track struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"size:64;not null;uniqueIndex"`
	NodeID    *uint  `gorm:"index"`
	Length    int    `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Unlimited reports whether the track has no length limit.
func (t Track) Unlimited() bool { return t.Length == 0 }
