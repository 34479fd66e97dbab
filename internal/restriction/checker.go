package restriction

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/yardcap/internal/models"
	"gorm.io/gorm"
)

// Active is a restriction window that applies to a movement.
type Active struct {
	RestrictionID uint                   `json:"restriction_id"`
	Type          models.RestrictionType `json:"type"`
	TrackID       uint                   `json:"track_id"`
	TrackName     string                 `json:"track_name"`
	Reason        string                 `json:"reason"`
}

// Checker looks up active restrictions.
type Checker struct {
	db  *gorm.DB
	loc *time.Location
}

// NewChecker returns a Checker for a yard in time zone loc.
func NewChecker(db *gorm.DB, loc *time.Location) *Checker {
	if loc == nil {
		loc = time.UTC
	}
	return &Checker{db: db, loc: loc}
}

// Active returns the restrictions a movement of kind would hit at t.
// Arrivals check no_entry on the destination, leavings check no_exit on the
// source; an internal move checks both.
func (c *Checker) Active(ctx context.Context, kind models.MovementKind, t time.Time, source, dest *uint) ([]Active, error) {
	if !kind.Valid() {
		return nil, invalidf("restriction: unknown movement kind %q", kind)
	}
	var out []Active
	if kind.NeedsDestination() && dest != nil {
		hits, err := c.lookup(ctx, *dest, models.NoEntry, t)
		if err != nil {
			return nil, err
		}
		out = append(out, hits...)
	}
	if kind.NeedsSource() && source != nil {
		hits, err := c.lookup(ctx, *source, models.NoExit, t)
		if err != nil {
			return nil, err
		}
		out = append(out, hits...)
	}
	return out, nil
}

func (c *Checker) lookup(ctx context.Context, trackID uint, typ models.RestrictionType, t time.Time) ([]Active, error) {
	day, minute := DayAndMinute(t, c.loc)
	var rows []Active
	err := c.db.WithContext(ctx).Table("daily_restrictions AS d").
		Select("d.restriction_id, d.type, d.track_id, t.name AS track_name, r.reason").
		Joins("JOIN restrictions r ON r.id = d.restriction_id").
		Joins("JOIN tracks t ON t.id = d.track_id").
		Where("d.track_id = ? AND d.type = ?", trackID, typ).
		Where("(d.day IS NULL OR d.day = ?)", day).
		Where("d.minute_from <= ? AND d.minute_to > ?", minute, minute).
		Order("d.restriction_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("restriction: lookup track %d: %w", trackID, err)
	}

	seen := make(map[uint]bool, len(rows))
	out := rows[:0]
	for _, r := range rows {
		if seen[r.RestrictionID] {
			continue
		}
		seen[r.RestrictionID] = true
		out = append(out, r)
	}
	return out, nil
}
