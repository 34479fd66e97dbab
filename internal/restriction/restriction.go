// Package restriction stores no-entry and no-exit windows on tracks and
// answers which of them apply to a movement at a given instant.
package restriction

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/yardcap/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrRestrictionNotFound is returned for an unknown restriction id.
	ErrRestrictionNotFound = errors.New("restriction: not found")
	// ErrInvalid matches every error caused by malformed input rather than
	// by the store.
	ErrInvalid = errors.New("restriction: invalid")
)

type invalidError struct{ err error }

func (e invalidError) Error() string        { return e.err.Error() }
func (e invalidError) Unwrap() error        { return e.err }
func (e invalidError) Is(target error) bool { return target == ErrInvalid }

func invalidf(format string, args ...any) error {
	return invalidError{fmt.Errorf(format, args...)}
}

// CreateOpts holds parameters for creating a restriction.
type CreateOpts struct {
	Type     models.RestrictionType
	Reason   string
	TrackIDs []uint
	Spec
}

// ListFilters holds optional filters for listing restrictions.
type ListFilters struct {
	TrackID uint
	Type    models.RestrictionType
}

// Create stores a restriction and its expanded per-day rows in one
// transaction. loc is the yard time zone.
func Create(db *gorm.DB, opts CreateOpts, loc *time.Location) (*models.Restriction, error) {
	if !opts.Type.Valid() {
		return nil, invalidf("restriction: type %q must be no_entry or no_exit", opts.Type)
	}
	if !opts.Mode.Valid() {
		return nil, invalidf("restriction: mode %q must be range, daily or permanent", opts.Mode)
	}
	trackIDs := dedupe(opts.TrackIDs)
	if len(trackIDs) == 0 {
		return nil, invalidf("restriction: at least one track is required")
	}
	windows, err := Expand(opts.Spec, loc)
	if err != nil {
		return nil, invalidError{err}
	}

	r := &models.Restriction{
		Type:     opts.Type,
		Mode:     opts.Mode,
		Reason:   opts.Reason,
		FirstDay: opts.FirstDay,
		LastDay:  opts.LastDay,
		TimeFrom: opts.TimeFrom,
		TimeTo:   opts.TimeTo,
	}
	if opts.Mode == models.RestrictionRange {
		starts, ends := opts.StartsAt.UTC(), opts.EndsAt.UTC()
		r.StartsAt, r.EndsAt = &starts, &ends
	}
	for _, id := range trackIDs {
		r.Tracks = append(r.Tracks, models.RestrictionTrack{TrackID: id})
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		var found int64
		if err := tx.Model(&models.Track{}).Where("id IN ?", trackIDs).Count(&found).Error; err != nil {
			return fmt.Errorf("restriction: check tracks: %w", err)
		}
		if int(found) != len(trackIDs) {
			return invalidf("restriction: %d of %d tracks not found", len(trackIDs)-int(found), len(trackIDs))
		}
		if err := tx.Create(r).Error; err != nil {
			return fmt.Errorf("restriction: create: %w", err)
		}
		rows := make([]models.DailyRestriction, 0, len(windows)*len(trackIDs))
		for _, trackID := range trackIDs {
			for _, w := range windows {
				rows = append(rows, models.DailyRestriction{
					RestrictionID: r.ID,
					TrackID:       trackID,
					Day:           w.Day,
					Type:          r.Type,
					MinuteFrom:    w.MinuteFrom,
					MinuteTo:      w.MinuteTo,
				})
			}
		}
		if err := tx.CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("restriction: create daily rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns a restriction with its tracks.
func Get(db *gorm.DB, id uint) (*models.Restriction, error) {
	var r models.Restriction
	if err := db.Preload("Tracks").First(&r, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrRestrictionNotFound, id)
		}
		return nil, fmt.Errorf("restriction: get %d: %w", id, err)
	}
	return &r, nil
}

// List returns restrictions matching filters, newest first.
func List(db *gorm.DB, filters ListFilters) ([]models.Restriction, error) {
	q := db.Model(&models.Restriction{}).Preload("Tracks")
	if filters.TrackID != 0 {
		q = q.Where("id IN (?)", db.Model(&models.RestrictionTrack{}).
			Select("restriction_id").Where("track_id = ?", filters.TrackID))
	}
	if filters.Type != "" {
		q = q.Where("type = ?", filters.Type)
	}
	var out []models.Restriction
	if err := q.Order("id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("restriction: list: %w", err)
	}
	return out, nil
}

// Delete removes a restriction with its tracks and expanded rows.
func Delete(db *gorm.DB, id uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var r models.Restriction
		if err := tx.First(&r, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %d", ErrRestrictionNotFound, id)
			}
			return fmt.Errorf("restriction: get %d: %w", id, err)
		}
		if err := tx.Where("restriction_id = ?", id).Delete(&models.DailyRestriction{}).Error; err != nil {
			return fmt.Errorf("restriction: delete daily rows of %d: %w", id, err)
		}
		if err := tx.Where("restriction_id = ?", id).Delete(&models.RestrictionTrack{}).Error; err != nil {
			return fmt.Errorf("restriction: delete tracks of %d: %w", id, err)
		}
		if err := tx.Delete(&r).Error; err != nil {
			return fmt.Errorf("restriction: delete %d: %w", id, err)
		}
		return nil
	})
}

func dedupe(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	var out []uint
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
