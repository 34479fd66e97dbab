package models

import "time"

// Restriction declares a window during which entry to or exit from a set of
// tracks is not allowed. It is expanded into DailyRestriction rows on create.
type Restriction struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	Type      RestrictionType `gorm:"size:16;not null"`
	Mode      RestrictionMode `gorm:"size:16;not null"`
	Reason    string          `gorm:"type:text"`
	StartsAt  *time.Time
	EndsAt    *time.Time
	FirstDay  string `gorm:"size:10"`
	LastDay   string `gorm:"size:10"`
	TimeFrom  string `gorm:"size:5"`
	TimeTo    string `gorm:"size:5"`
	CreatedAt time.Time

	Tracks []RestrictionTrack `gorm:"foreignKey:RestrictionID"`
}

// RestrictionTrack links a restriction to an affected track.
type RestrictionTrack struct {
	RestrictionID uint `gorm:"primaryKey"`
	TrackID       uint `gorm:"primaryKey;index"`
}

// DailyRestriction is one expanded window for one track. Day is a yard-local
// date (2006-01-02); nil means every date. Minutes are half-open [from, to).
type DailyRestriction struct {
	ID            uint            `gorm:"primaryKey;autoIncrement"`
	RestrictionID uint            `gorm:"not null;index"`
	TrackID       uint            `gorm:"not null;index:idx_daily_lookup"`
	Day           *string         `gorm:"size:10;index:idx_daily_lookup"`
	Type          RestrictionType `gorm:"size:16;not null;index:idx_daily_lookup"`
	MinuteFrom    int             `gorm:"not null"`
	MinuteTo      int             `gorm:"not null"`
}
