package yard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/yardcap/internal/capacity"
	"github.com/zulandar/yardcap/internal/clock"
	"github.com/zulandar/yardcap/internal/ledger"
	"github.com/zulandar/yardcap/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrWagonNotFound is returned for an unknown wagon id.
	ErrWagonNotFound = errors.New("yard: wagon not found")
	// ErrAlreadyPlaced is returned when placing a wagon that is in the yard.
	ErrAlreadyPlaced = errors.New("yard: wagon already placed")
	// ErrNoCapacity is returned when the track cannot take the wagon.
	ErrNoCapacity = errors.New("yard: insufficient capacity")
)

// WagonOpts holds parameters for registering a wagon.
type WagonOpts struct {
	Number  string // optional external number
	Length  int
	Content string
}

// WagonFilters holds optional filters for listing wagons.
type WagonFilters struct {
	TrackID  uint
	Number   string
	Unplaced bool
}

// CreateWagon registers a wagon outside the yard.
func CreateWagon(db *gorm.DB, opts WagonOpts) (*models.Wagon, error) {
	if opts.Length <= 0 {
		return nil, fmt.Errorf("yard: wagon length must be positive, got %d", opts.Length)
	}
	w := models.Wagon{Length: opts.Length, Content: opts.Content}
	if opts.Number != "" {
		w.Number = &opts.Number
	}
	if err := db.Create(&w).Error; err != nil {
		return nil, fmt.Errorf("yard: create wagon: %w", err)
	}
	return &w, nil
}

// GetWagon returns a wagon by id.
func GetWagon(db *gorm.DB, id uint) (*models.Wagon, error) {
	var w models.Wagon
	if err := db.First(&w, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrWagonNotFound, id)
		}
		return nil, fmt.Errorf("yard: get wagon %d: %w", id, err)
	}
	return &w, nil
}

// ListWagons returns wagons matching filters ordered by id.
func ListWagons(db *gorm.DB, filters WagonFilters) ([]models.Wagon, error) {
	q := db.Model(&models.Wagon{})
	if filters.TrackID != 0 {
		q = q.Where("current_track_id = ?", filters.TrackID)
	}
	if filters.Unplaced {
		q = q.Where("current_track_id IS NULL")
	}
	if filters.Number != "" {
		q = q.Where("number = ?", filters.Number)
	}
	var wagons []models.Wagon
	if err := q.Order("id ASC").Find(&wagons).Error; err != nil {
		return nil, fmt.Errorf("yard: list wagons: %w", err)
	}
	return wagons, nil
}

// PlaceWagon puts a wagon on a track at at without a movement, writing an
// initial event. The wagon must be off the yard at at and the track must
// have room for it at that time.
func PlaceWagon(ctx context.Context, db *gorm.DB, checker *capacity.Checker, wagonID, trackID uint, at time.Time) (*models.MovementEvent, error) {
	now := clock.Normalize(checker.Replay().Clock().Now())
	at = clock.Normalize(at)
	var ev *models.MovementEvent
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := GetWagon(tx, wagonID)
		if err != nil {
			return err
		}
		if _, err := GetTrack(tx, trackID); err != nil {
			return err
		}
		if w.CurrentTrackID != nil {
			return fmt.Errorf("%w: wagon %d is on track %d", ErrAlreadyPlaced, wagonID, *w.CurrentTrackID)
		}
		pos, _, err := ledger.PositionAt(tx, wagonID, at)
		if err != nil {
			return err
		}
		if pos != nil {
			return fmt.Errorf("%w: wagon %d is on track %d at %s", ErrAlreadyPlaced, wagonID, *pos, at.Format(time.RFC3339))
		}

		txChecker := checker.WithDB(tx)
		occ, err := txChecker.OccupancyAt(ctx, trackID, at)
		if err != nil {
			return err
		}
		if !occ.Fits(w.Length) {
			return fmt.Errorf("%w: track %d has %d available, %d required", ErrNoCapacity, trackID, occ.AvailableLength, w.Length)
		}
		stay := capacity.Stay{WagonID: wagonID, Length: w.Length}
		next, err := ledger.NextEvent(tx, wagonID, at)
		if err != nil {
			return err
		}
		if next != nil {
			stay.Until = next.OccurredAt
		}
		overflows, err := txChecker.ExecutedOverflows(ctx, trackID, at, []capacity.Stay{stay})
		if err != nil {
			return err
		}
		if len(overflows) > 0 {
			o := overflows[0]
			return fmt.Errorf("%w: track %d would hold %d of %d at %s", ErrNoCapacity, trackID,
				o.OccupiedLength, o.TotalLength, o.At.Format(time.RFC3339))
		}

		ev = &models.MovementEvent{
			WagonID:    wagonID,
			OccurredAt: at,
			Kind:       models.EventInitial,
			TrackID:    &trackID,
		}
		if err := ledger.Append(tx, ev); err != nil {
			return err
		}
		return ledger.RefreshPointer(tx, wagonID, now)
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}
