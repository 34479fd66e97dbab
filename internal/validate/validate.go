// Package validate decides whether a proposed movement may be written.
//
// Blocking problems come back as field-referenced errors; advisory findings
// come back as warnings the caller has to acknowledge. Checks run in order:
// structure, physical presence, then scheduling overlaps, destination
// capacity, restrictions and number uniqueness side by side.
package validate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/yardcap/internal/capacity"
	"github.com/zulandar/yardcap/internal/clock"
	"github.com/zulandar/yardcap/internal/ledger"
	"github.com/zulandar/yardcap/internal/metrics"
	"github.com/zulandar/yardcap/internal/models"
	"github.com/zulandar/yardcap/internal/replay"
	"github.com/zulandar/yardcap/internal/restriction"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Error codes.
const (
	CodeRequired             = "required"
	CodeInvalidKind          = "invalid_kind"
	CodeUnexpectedField      = "unexpected_field"
	CodeSameTrack            = "same_track"
	CodeTrackNotFound        = "track_not_found"
	CodeWagonNotFound        = "wagon_not_found"
	CodeDuplicateWagon       = "duplicate_wagon"
	CodeWagonNotPresent      = "wagon_not_present"
	CodeWagonAlreadyPlaced   = "wagon_already_placed"
	CodeSequenceConflict     = "wagon_sequence_conflict"
	CodeInsufficientCapacity = "insufficient_capacity"
	CodeDuplicateNumber      = "duplicate_wagon_number"
)

// Warning codes.
const (
	WarnTimeConflict      = "wagon_time_conflict"
	WarnSameDay           = "wagon_same_day"
	WarnFutureCapacity    = "future_capacity_conflict"
	WarnRestrictionActive = "restriction_active"
)

// DefaultConflictBuffer is the window around a proposal in which another
// planned movement of the same wagon is reported as a time conflict.
const DefaultConflictBuffer = 2 * time.Hour

// Proposal is a movement that has not been written yet.
type Proposal struct {
	Kind          models.MovementKind `json:"kind"`
	ScheduledAt   time.Time           `json:"scheduled_at"`
	SourceTrackID *uint               `json:"source_track_id,omitempty"`
	DestTrackID   *uint               `json:"dest_track_id,omitempty"`
	WagonIDs      []uint              `json:"wagon_ids"`
	Note          string              `json:"note,omitempty"`

	// ExcludeMovementID leaves an existing movement out of every check, for
	// re-validating a movement that is being edited.
	ExcludeMovementID uint `json:"-"`
}

func (p Proposal) excluded() []uint {
	if p.ExcludeMovementID == 0 {
		return nil
	}
	return []uint{p.ExcludeMovementID}
}

// FieldError is a blocking problem tied to an input field.
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Warning is an advisory finding.
type Warning struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Result is the outcome of Validate.
type Result struct {
	IsValid  bool         `json:"is_valid"`
	Errors   []FieldError `json:"errors"`
	Warnings []Warning    `json:"warnings"`
}

// ErrorCodes lists the codes of all errors.
func (r *Result) ErrorCodes() []string {
	codes := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		codes[i] = e.Code
	}
	return codes
}

// WarningCodes lists the codes of all warnings.
func (r *Result) WarningCodes() []string {
	codes := make([]string, len(r.Warnings))
	for i, w := range r.Warnings {
		codes[i] = w.Code
	}
	return codes
}

// Err joins the blocking errors, or returns nil for a valid result.
func (r *Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

func (r *Result) fail(code, field, format string, args ...any) {
	r.Errors = append(r.Errors, FieldError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)})
}

// Options tune the advisory checks.
type Options struct {
	ConflictBuffer  time.Duration
	SameDayWarnings bool
	Location        *time.Location
}

// Validator runs the checks against the store.
type Validator struct {
	db           *gorm.DB
	clock        clock.Clock
	capacity     *capacity.Checker
	restrictions *restriction.Checker
	opts         Options
	metrics      *metrics.Collector
}

// New returns a Validator. m may be nil.
func New(db *gorm.DB, capChecker *capacity.Checker, restrictions *restriction.Checker, opts Options, m *metrics.Collector) *Validator {
	if opts.ConflictBuffer <= 0 {
		opts.ConflictBuffer = DefaultConflictBuffer
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Validator{
		db:           db,
		clock:        capChecker.Replay().Clock(),
		capacity:     capChecker,
		restrictions: restrictions,
		opts:         opts,
		metrics:      m,
	}
}

// Capacity returns the capacity checker used by the validator.
func (v *Validator) Capacity() *capacity.Checker { return v.capacity }

// Clock returns the validator's clock.
func (v *Validator) Clock() clock.Clock { return v.clock }

// proposalState carries what the structural step loaded for later steps.
type proposalState struct {
	p      Proposal
	at     time.Time
	now    time.Time
	wagons map[uint]models.Wagon
	tracks map[uint]models.Track
}

// Validate checks p and returns every error and warning found. The returned
// error is reserved for store failures.
func (v *Validator) Validate(ctx context.Context, p Proposal) (*Result, error) {
	res := &Result{Errors: []FieldError{}, Warnings: []Warning{}}
	defer func() {
		res.IsValid = len(res.Errors) == 0
		v.metrics.ObserveValidation(string(p.Kind), res.IsValid, res.ErrorCodes(), res.WarningCodes())
	}()

	st, err := v.checkStructure(ctx, p, res)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return res, nil
	}

	if err := v.checkPresence(ctx, st, res); err != nil {
		return nil, err
	}

	var (
		timing   []Warning
		capErrs  []FieldError
		capWarns []Warning
		restrict []Warning
		numbers  []FieldError
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		timing, err = v.checkTiming(gctx, st)
		return err
	})
	g.Go(func() (err error) {
		capErrs, capWarns, err = v.checkCapacity(gctx, st)
		return err
	})
	g.Go(func() (err error) {
		restrict, err = v.checkRestrictions(gctx, st)
		return err
	})
	g.Go(func() (err error) {
		numbers, err = v.checkNumbers(gctx, st)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res.Warnings = append(res.Warnings, timing...)
	res.Errors = append(res.Errors, capErrs...)
	res.Warnings = append(res.Warnings, capWarns...)
	res.Warnings = append(res.Warnings, restrict...)
	res.Errors = append(res.Errors, numbers...)
	return res, nil
}

func (v *Validator) checkStructure(ctx context.Context, p Proposal, res *Result) (*proposalState, error) {
	st := &proposalState{
		p:      p,
		at:     clock.Normalize(p.ScheduledAt),
		now:    clock.Normalize(v.clock.Now()),
		wagons: make(map[uint]models.Wagon),
		tracks: make(map[uint]models.Track),
	}

	if !p.Kind.Valid() {
		res.fail(CodeInvalidKind, "kind", "kind %q must be delivery, departure or internal", p.Kind)
	}
	if p.ScheduledAt.IsZero() {
		res.fail(CodeRequired, "scheduled_at", "scheduled time is required")
	}
	if p.Kind.Valid() {
		switch {
		case p.Kind.NeedsSource() && p.SourceTrackID == nil:
			res.fail(CodeRequired, "source_track_id", "a %s needs a source track", p.Kind)
		case !p.Kind.NeedsSource() && p.SourceTrackID != nil:
			res.fail(CodeUnexpectedField, "source_track_id", "a %s has no source track", p.Kind)
		}
		switch {
		case p.Kind.NeedsDestination() && p.DestTrackID == nil:
			res.fail(CodeRequired, "dest_track_id", "a %s needs a destination track", p.Kind)
		case !p.Kind.NeedsDestination() && p.DestTrackID != nil:
			res.fail(CodeUnexpectedField, "dest_track_id", "a %s has no destination track", p.Kind)
		}
		if p.Kind == models.MovementInternal && p.SourceTrackID != nil && p.DestTrackID != nil &&
			*p.SourceTrackID == *p.DestTrackID {
			res.fail(CodeSameTrack, "dest_track_id", "source and destination are both track %d", *p.DestTrackID)
		}
	}
	if len(p.WagonIDs) == 0 {
		res.fail(CodeRequired, "wagon_ids", "at least one wagon is required")
	}
	seen := make(map[uint]bool, len(p.WagonIDs))
	var dupes []string
	for _, id := range p.WagonIDs {
		if seen[id] {
			dupes = append(dupes, fmt.Sprint(id))
		}
		seen[id] = true
	}
	if len(dupes) > 0 {
		res.fail(CodeDuplicateWagon, "wagon_ids", "wagons listed more than once: %s", strings.Join(dupes, ", "))
	}

	db := v.db.WithContext(ctx)
	refs := []struct {
		field string
		id    *uint
	}{
		{"source_track_id", p.SourceTrackID},
		{"dest_track_id", p.DestTrackID},
	}
	for _, ref := range refs {
		field, id := ref.field, ref.id
		if id == nil {
			continue
		}
		var tr models.Track
		err := db.First(&tr, *id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			res.fail(CodeTrackNotFound, field, "track %d does not exist", *id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("validate: load track %d: %w", *id, err)
		}
		st.tracks[tr.ID] = tr
	}

	if len(p.WagonIDs) > 0 {
		var wagons []models.Wagon
		if err := db.Where("id IN ?", p.WagonIDs).Find(&wagons).Error; err != nil {
			return nil, fmt.Errorf("validate: load wagons: %w", err)
		}
		for _, w := range wagons {
			st.wagons[w.ID] = w
		}
		var missing []string
		for _, id := range p.WagonIDs {
			if _, ok := st.wagons[id]; !ok {
				missing = append(missing, fmt.Sprint(id))
			}
		}
		if len(missing) > 0 {
			res.fail(CodeWagonNotFound, "wagon_ids", "wagons do not exist: %s", strings.Join(missing, ", "))
		}
	}
	return st, nil
}

// positionAt is where the ledger puts the wagon at t, falling back to the
// materialized pointer for wagons that have no events at all.
func (v *Validator) positionAt(ctx context.Context, w models.Wagon, t time.Time, exclude []uint) (*uint, error) {
	pos, ok, err := ledger.PositionAt(v.db.WithContext(ctx), w.ID, t, exclude...)
	if err != nil {
		return nil, err
	}
	if ok {
		return pos, nil
	}
	n, err := ledger.EventCount(v.db.WithContext(ctx), w.ID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return w.CurrentTrackID, nil
	}
	return nil, nil
}

func (v *Validator) checkPresence(ctx context.Context, st *proposalState, res *Result) error {
	p := st.p
	future := st.at.After(st.now)
	for _, id := range p.WagonIDs {
		w := st.wagons[id]
		label := wagonLabel(w)

		if p.Kind == models.MovementDelivery {
			pos, err := v.positionAt(ctx, w, st.at, p.excluded())
			if err != nil {
				return fmt.Errorf("validate: position of wagon %d: %w", id, err)
			}
			if pos != nil {
				res.fail(CodeWagonAlreadyPlaced, "wagon_ids", "wagon %s is already on track %s at %s",
					label, v.trackName(st, *pos), st.at.Format(time.RFC3339))
				continue
			}
		} else {
			present := w.CurrentTrackID == nil || *w.CurrentTrackID == *p.SourceTrackID
			if !present && future {
				pos, err := v.positionAt(ctx, w, st.at, p.excluded())
				if err != nil {
					return fmt.Errorf("validate: position of wagon %d: %w", id, err)
				}
				present = pos != nil && *pos == *p.SourceTrackID
			}
			if !present {
				res.fail(CodeWagonNotPresent, "wagon_ids", "wagon %s is not on track %s",
					label, v.trackName(st, *p.SourceTrackID))
				continue
			}
		}

		violation, err := ledger.CheckChain(v.db.WithContext(ctx), id, st.at, p.SourceTrackID, p.DestTrackID, p.excluded()...)
		if err != nil {
			return fmt.Errorf("validate: chain of wagon %d: %w", id, err)
		}
		if violation != nil {
			res.fail(CodeSequenceConflict, "wagon_ids", "wagon %s: %s", label, violation.Message)
		}
	}
	return nil
}

// plannedRow is one planned movement carrying a proposed wagon.
type plannedRow struct {
	MovementID  uint
	WagonID     uint
	Kind        models.MovementKind
	ScheduledAt time.Time
}

func (v *Validator) checkTiming(ctx context.Context, st *proposalState) ([]Warning, error) {
	var rows []plannedRow
	q := v.db.WithContext(ctx).Table("movements").
		Select("movements.id AS movement_id, mw.wagon_id, movements.kind, movements.scheduled_at").
		Joins("JOIN movement_wagons mw ON mw.movement_id = movements.id").
		Where("mw.wagon_id IN ?", st.p.WagonIDs).
		Where("movements.scheduled_at > ?", st.now)
	if st.p.ExcludeMovementID != 0 {
		q = q.Where("movements.id <> ?", st.p.ExcludeMovementID)
	}
	if err := q.Order("movements.scheduled_at ASC, movements.id ASC, mw.wagon_id ASC").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("validate: planned movements of wagons: %w", err)
	}

	loc := v.opts.Location
	day := st.at.In(loc).Format("2006-01-02")
	var out []Warning
	for _, r := range rows {
		at := r.ScheduledAt.UTC()
		gap := at.Sub(st.at)
		if gap < 0 {
			gap = -gap
		}
		details := map[string]any{
			"wagon_id":     r.WagonID,
			"movement_id":  r.MovementID,
			"scheduled_at": at,
		}
		label := wagonLabel(st.wagons[r.WagonID])
		switch {
		case gap <= v.opts.ConflictBuffer:
			out = append(out, Warning{
				Code:    WarnTimeConflict,
				Message: fmt.Sprintf("wagon %s has %s movement %d at %s, within %s", label, r.Kind, r.MovementID, at.Format(time.RFC3339), v.opts.ConflictBuffer),
				Details: details,
			})
		case v.opts.SameDayWarnings && at.In(loc).Format("2006-01-02") == day:
			out = append(out, Warning{
				Code:    WarnSameDay,
				Message: fmt.Sprintf("wagon %s has %s movement %d on the same day at %s", label, r.Kind, r.MovementID, at.Format(time.RFC3339)),
				Details: details,
			})
		}
	}
	return out, nil
}

func (v *Validator) checkCapacity(ctx context.Context, st *proposalState) ([]FieldError, []Warning, error) {
	if st.p.DestTrackID == nil {
		return nil, nil, nil
	}
	dest := *st.p.DestTrackID
	opts := replay.Options{ExcludeMovements: st.p.excluded()}
	snap, err := v.capacity.Replay().OccupantsAt(ctx, dest, st.at, opts)
	if err != nil {
		return nil, nil, err
	}
	additional := 0
	for _, id := range st.p.WagonIDs {
		if !snap.Has(id) {
			additional += st.wagons[id].Length
		}
	}

	rep, err := v.capacity.CheckWithConflicts(ctx, dest, st.at, additional, opts)
	if err != nil {
		return nil, nil, err
	}
	name := v.trackName(st, dest)
	if !rep.HasCapacity {
		return []FieldError{{
			Code:    CodeInsufficientCapacity,
			Field:   "dest_track_id",
			Message: fmt.Sprintf("track %s has %d available, %d required", name, rep.AvailableLength, additional),
		}}, nil, nil
	}
	if st.at.Before(st.now) {
		errs, err := v.checkExecutedCapacity(ctx, st, snap, opts, name)
		if err != nil || len(errs) > 0 {
			return errs, nil, err
		}
	}
	var warns []Warning
	for _, c := range rep.FutureConflicts {
		warns = append(warns, Warning{
			Code: WarnFutureCapacity,
			Message: fmt.Sprintf("planned movement %d at %s would find %d available on track %s but needs %d",
				c.MovementID, c.ScheduledAt.Format(time.RFC3339), c.AvailableAtThatTime, name, c.Required),
			Details: map[string]any{
				"movement_id":            c.MovementID,
				"scheduled_at":           c.ScheduledAt,
				"available_at_that_time": c.AvailableAtThatTime,
				"required":               c.Required,
				"shortfall":              c.Shortfall,
			},
		})
	}
	return nil, warns, nil
}

// checkExecutedCapacity replays the destination at every arrival between a
// back-dated proposal and now. The proposed wagons count from the proposal
// until their next recorded event.
func (v *Validator) checkExecutedCapacity(ctx context.Context, st *proposalState, snap *replay.Snapshot, opts replay.Options, name string) ([]FieldError, error) {
	db := v.db.WithContext(ctx)
	var stays []capacity.Stay
	for _, id := range st.p.WagonIDs {
		if snap.Has(id) {
			continue
		}
		next, err := ledger.NextEvent(db, id, st.at, opts.ExcludeMovements...)
		if err != nil {
			return nil, err
		}
		stay := capacity.Stay{WagonID: id, Length: st.wagons[id].Length}
		if next != nil {
			stay.Until = next.OccurredAt
		}
		stays = append(stays, stay)
	}
	overflows, err := v.capacity.ExecutedOverflows(ctx, *st.p.DestTrackID, st.at, stays, opts)
	if err != nil {
		return nil, err
	}
	var out []FieldError
	for _, o := range overflows {
		out = append(out, FieldError{
			Code:  CodeInsufficientCapacity,
			Field: "dest_track_id",
			Message: fmt.Sprintf("track %s would hold %d of %d at %s", name,
				o.OccupiedLength, o.TotalLength, o.At.Format(time.RFC3339)),
		})
	}
	return out, nil
}

func (v *Validator) checkRestrictions(ctx context.Context, st *proposalState) ([]Warning, error) {
	if v.restrictions == nil {
		return nil, nil
	}
	hits, err := v.restrictions.Active(ctx, st.p.Kind, st.at, st.p.SourceTrackID, st.p.DestTrackID)
	if err != nil {
		return nil, err
	}
	var out []Warning
	for _, h := range hits {
		msg := fmt.Sprintf("%s restriction on track %s", h.Type, h.TrackName)
		if h.Reason != "" {
			msg += ": " + h.Reason
		}
		out = append(out, Warning{
			Code:    WarnRestrictionActive,
			Message: msg,
			Details: map[string]any{
				"restriction_id": h.RestrictionID,
				"type":           h.Type,
				"track_id":       h.TrackID,
				"track_name":     h.TrackName,
				"reason":         h.Reason,
			},
		})
	}
	return out, nil
}

func (v *Validator) checkNumbers(ctx context.Context, st *proposalState) ([]FieldError, error) {
	if st.p.DestTrackID == nil {
		return nil, nil
	}
	dest := *st.p.DestTrackID
	var out []FieldError
	for _, id := range st.p.WagonIDs {
		w := st.wagons[id]
		if w.Number == nil || *w.Number == "" {
			continue
		}
		var others []models.Wagon
		if err := v.db.WithContext(ctx).
			Where("number = ? AND id <> ? AND current_track_id IS NOT NULL AND current_track_id <> ?", *w.Number, id, dest).
			Find(&others).Error; err != nil {
			return nil, fmt.Errorf("validate: wagons numbered %s: %w", *w.Number, err)
		}
		for _, o := range others {
			out = append(out, FieldError{
				Code:    CodeDuplicateNumber,
				Field:   "wagon_ids",
				Message: fmt.Sprintf("wagon number %s is already on track %d as wagon %d", *w.Number, *o.CurrentTrackID, o.ID),
			})
		}
	}
	return out, nil
}

func (v *Validator) trackName(st *proposalState, id uint) string {
	if tr, ok := st.tracks[id]; ok {
		return tr.Name
	}
	return fmt.Sprint(id)
}

func wagonLabel(w models.Wagon) string {
	if w.Number != nil && *w.Number != "" {
		return *w.Number
	}
	return fmt.Sprintf("#%d", w.ID)
}
