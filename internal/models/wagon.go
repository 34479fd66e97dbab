package models

import "time"

// Wagon is a mobile unit with a physical length. CurrentTrackID is a cache
// of the ledger position and never the source of truth.
type Wagon struct {
	ID             uint    `gorm:"primaryKey;autoIncrement"`
	Number         *string `gorm:"size:32;index"`
	Length         int     `gorm:"not null"`
	Content        string  `gorm:"size:128"`
	CurrentTrackID *uint   `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NumberString returns the external number or "" when the wagon has none.
func (w Wagon) NumberString() string {
	if w.Number == nil {
		return ""
	}
	return *w.Number
}
