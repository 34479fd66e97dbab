package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/yardcap/internal/clock"
	"github.com/zulandar/yardcap/internal/models"
	"gorm.io/gorm"
)

// OutcomeStatus is the result of compensating one wagon.
type OutcomeStatus string

const (
	// Restored: the wagon went back to the track it held before the movement.
	Restored OutcomeStatus = "restored"
	// Unplaced: the wagon has no prior position and was taken off the yard.
	Unplaced OutcomeStatus = "unplaced"
	// Unchanged: nothing to compensate.
	Unchanged OutcomeStatus = "unchanged"
	// Failed: the compensation for this wagon was rolled back.
	Failed OutcomeStatus = "failed"
)

// Outcome is the per-wagon result of Revert.
type Outcome struct {
	WagonID uint          `json:"wagon_id"`
	Status  OutcomeStatus `json:"status"`
	TrackID *uint         `json:"track_id,omitempty"`
	Reason  string        `json:"reason,omitempty"`
}

// RevertResult collects the outcomes of one Revert call.
type RevertResult struct {
	MovementID uint      `json:"movement_id"`
	Outcomes   []Outcome `json:"outcomes"`
	Detached   int64     `json:"detached_events"`
}

// Failed returns the outcomes whose compensation did not apply.
func (r *RevertResult) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == Failed {
			out = append(out, o)
		}
	}
	return out
}

// Revert writes the compensating corrections for a movement that is about to
// be deleted, then detaches the movement's events. db should be the
// transaction that also deletes the movement, so the whole deletion commits
// or rolls back as one. Each wagon is compensated in its own savepoint so
// one failure never blocks the others; failures are reported in the result
// and logged, not returned. The returned error is reserved for failing to
// detach the events.
//
// Corrections are recorded at now. For a movement that has not happened yet
// the prior position is therefore taken as of now rather than as of the
// movement's own time.
func Revert(ctx context.Context, db *gorm.DB, m *models.Movement, now time.Time) (*RevertResult, error) {
	log := zerolog.Ctx(ctx)
	now = clock.Normalize(now)
	cutoff := clock.Normalize(m.ScheduledAt)
	if cutoff.After(now) {
		cutoff = now
	}

	res := &RevertResult{MovementID: m.ID}
	for _, wagonID := range m.WagonIDs() {
		out := Outcome{WagonID: wagonID}
		err := db.Transaction(func(tx *gorm.DB) error {
			status, trackID, err := compensate(tx, m, wagonID, cutoff, now)
			out.Status, out.TrackID = status, trackID
			return err
		})
		if err != nil {
			out.Status = Failed
			out.TrackID = nil
			out.Reason = err.Error()
			log.Error().Err(err).
				Uint("movement", m.ID).
				Uint("wagon", wagonID).
				Msg("revert: compensation failed")
		} else {
			log.Debug().
				Uint("movement", m.ID).
				Uint("wagon", wagonID).
				Str("status", string(out.Status)).
				Msg("revert: wagon compensated")
		}
		res.Outcomes = append(res.Outcomes, out)
	}

	n, err := Detach(db, m.ID)
	if err != nil {
		return res, err
	}
	res.Detached = n

	// Detaching may change what the ledger says about now.
	for _, o := range res.Outcomes {
		if o.Status == Failed {
			continue
		}
		if err := RefreshPointer(db, o.WagonID, now); err != nil {
			log.Warn().Err(err).Uint("wagon", o.WagonID).Msg("revert: refresh pointer")
		}
	}
	return res, nil
}

func compensate(tx *gorm.DB, m *models.Movement, wagonID uint, cutoff, now time.Time) (OutcomeStatus, *uint, error) {
	var wagon models.Wagon
	if err := tx.Where("id = ?", wagonID).First(&wagon).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Failed, nil, fmt.Errorf("%w: %d", ErrWagonNotFound, wagonID)
		}
		return Failed, nil, fmt.Errorf("ledger: load wagon %d: %w", wagonID, err)
	}

	var prior models.MovementEvent
	err := active(tx.Model(&models.MovementEvent{})).
		Where("wagon_id = ? AND occurred_at < ?", wagonID, cutoff).
		Where("(movement_id IS NULL OR movement_id <> ?)", m.ID).
		Order("occurred_at DESC, id DESC").
		First(&prior).Error
	switch {
	case err == nil:
		ev := models.MovementEvent{
			WagonID:         wagonID,
			OccurredAt:      now,
			Kind:            models.EventCorrection,
			TrackID:         prior.TrackID,
			PreviousTrackID: wagon.CurrentTrackID,
			Note:            fmt.Sprintf("revert movement %d", m.ID),
		}
		if err := Append(tx, &ev); err != nil {
			return Failed, nil, err
		}
		if err := setPointer(tx, wagonID, prior.TrackID); err != nil {
			return Failed, nil, err
		}
		if prior.TrackID == nil {
			return Unplaced, nil, nil
		}
		return Restored, prior.TrackID, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		if m.Kind != models.MovementDelivery {
			return Unchanged, wagon.CurrentTrackID, nil
		}
		ev := models.MovementEvent{
			WagonID:         wagonID,
			OccurredAt:      now,
			Kind:            models.EventCorrection,
			PreviousTrackID: m.DestTrackID,
			Note:            fmt.Sprintf("removed: revert movement %d", m.ID),
		}
		if err := Append(tx, &ev); err != nil {
			return Failed, nil, err
		}
		if err := setPointer(tx, wagonID, nil); err != nil {
			return Failed, nil, err
		}
		return Unplaced, nil, nil

	default:
		return Failed, nil, fmt.Errorf("ledger: prior event of wagon %d: %w", wagonID, err)
	}
}

func setPointer(tx *gorm.DB, wagonID uint, trackID *uint) error {
	if err := tx.Model(&models.Wagon{}).Where("id = ?", wagonID).
		Update("current_track_id", trackID).Error; err != nil {
		return fmt.Errorf("ledger: update pointer of wagon %d: %w", wagonID, err)
	}
	return nil
}

// Detach clears the movement reference of every event written for movementID
// and remembers it in detached_from. The events themselves stay.
func Detach(db *gorm.DB, movementID uint) (int64, error) {
	result := db.Model(&models.MovementEvent{}).
		Where("movement_id = ?", movementID).
		Updates(map[string]interface{}{
			"movement_id":   nil,
			"detached_from": movementID,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("ledger: detach events of movement %d: %w", movementID, result.Error)
	}
	return result.RowsAffected, nil
}
