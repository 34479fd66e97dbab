package validate

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/yardcap/internal/capacity"
	"github.com/zulandar/yardcap/internal/clock"
	"github.com/zulandar/yardcap/internal/metrics"
	"github.com/zulandar/yardcap/internal/models"
	"github.com/zulandar/yardcap/internal/replay"
	"github.com/zulandar/yardcap/internal/restriction"
	"github.com/zulandar/yardcap/internal/yardtest"
	"gorm.io/gorm"
)

var (
	now = yardtest.Base
	day = 24 * time.Hour
	ctx = context.Background()
)

func newValidator(t *testing.T, gormDB *gorm.DB, m *metrics.Collector) *Validator {
	t.Helper()
	engine := replay.New(gormDB, clock.NewFake(now), m)
	return New(gormDB,
		capacity.New(gormDB, engine, 0),
		restriction.NewChecker(gormDB, time.UTC),
		Options{SameDayWarnings: true},
		m)
}

func ptr(id uint) *uint { return yardtest.Ptr(id) }

func codes(fe []FieldError) []string {
	out := make([]string, len(fe))
	for i, e := range fe {
		out[i] = e.Code
	}
	return out
}

func TestValidate_InsufficientCapacity(t *testing.T) {
	gormDB := yardtest.Open(t)
	v := newValidator(t, gormDB, nil)
	tr := yardtest.Track(t, gormDB, "T100", 100)
	w := yardtest.Wagon(t, gormDB, "BIG", 150)

	res, err := v.Validate(ctx, Proposal{
		Kind:        models.MovementDelivery,
		ScheduledAt: now,
		DestTrackID: ptr(tr.ID),
		WagonIDs:    []uint{w.ID},
	})
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, CodeInsufficientCapacity, res.Errors[0].Code)
	assert.Equal(t, "dest_track_id", res.Errors[0].Field)
	assert.Contains(t, res.Errors[0].Message, "100 available")
	assert.Contains(t, res.Errors[0].Message, "150 required")
	assert.Error(t, res.Err())
}

func TestValidate_RestrictionIsAWarning(t *testing.T) {
	gormDB := yardtest.Open(t)
	v := newValidator(t, gormDB, nil)
	tr := yardtest.Track(t, gormDB, "T", 300)
	w := yardtest.Wagon(t, gormDB, "W1", 20)
	_, err := restriction.Create(gormDB, restriction.CreateOpts{
		Type:     models.NoEntry,
		Reason:   "points renewal",
		TrackIDs: []uint{tr.ID},
		Spec: restriction.Spec{
			Mode:     models.RestrictionRange,
			StartsAt: now.Add(-time.Hour),
			EndsAt:   now.Add(time.Hour),
		},
	}, time.UTC)
	require.NoError(t, err)

	hits, err := restriction.NewChecker(gormDB, time.UTC).Active(ctx, models.MovementDelivery, now, nil, ptr(tr.ID))
	require.NoError(t, err)
	require.Len(t, hits, 1)

	res, err := v.Validate(ctx, Proposal{
		Kind:        models.MovementDelivery,
		ScheduledAt: now,
		DestTrackID: ptr(tr.ID),
		WagonIDs:    []uint{w.ID},
	})
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnRestrictionActive, res.Warnings[0].Code)
	assert.Contains(t, res.Warnings[0].Message, "points renewal")
	assert.Equal(t, "T", res.Warnings[0].Details["track_name"])
}

func TestValidate_Structure(t *testing.T) {
	gormDB := yardtest.Open(t)
	v := newValidator(t, gormDB, nil)
	a := yardtest.Track(t, gormDB, "A", 0)
	w := yardtest.Wagon(t, gormDB, "W1", 10)

	tests := []struct {
		name  string
		p     Proposal
		codes []string
	}{
		{
			name:  "unknown kind",
			p:     Proposal{Kind: "shunt", ScheduledAt: now, WagonIDs: []uint{w.ID}},
			codes: []string{CodeInvalidKind},
		},
		{
			name:  "missing time and wagons",
			p:     Proposal{Kind: models.MovementDelivery, DestTrackID: ptr(a.ID)},
			codes: []string{CodeRequired, CodeRequired},
		},
		{
			name:  "departure without source",
			p:     Proposal{Kind: models.MovementDeparture, ScheduledAt: now, WagonIDs: []uint{w.ID}},
			codes: []string{CodeRequired},
		},
		{
			name:  "delivery with source",
			p:     Proposal{Kind: models.MovementDelivery, ScheduledAt: now, SourceTrackID: ptr(a.ID), DestTrackID: ptr(a.ID), WagonIDs: []uint{w.ID}},
			codes: []string{CodeUnexpectedField},
		},
		{
			name:  "internal onto same track",
			p:     Proposal{Kind: models.MovementInternal, ScheduledAt: now, SourceTrackID: ptr(a.ID), DestTrackID: ptr(a.ID), WagonIDs: []uint{w.ID}},
			codes: []string{CodeSameTrack},
		},
		{
			name:  "duplicate wagon",
			p:     Proposal{Kind: models.MovementDelivery, ScheduledAt: now, DestTrackID: ptr(a.ID), WagonIDs: []uint{w.ID, w.ID}},
			codes: []string{CodeDuplicateWagon},
		},
		{
			name:  "unknown track and wagon",
			p:     Proposal{Kind: models.MovementDelivery, ScheduledAt: now, DestTrackID: ptr(99), WagonIDs: []uint{w.ID, 98}},
			codes: []string{CodeTrackNotFound, CodeWagonNotFound},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Validate(ctx, tt.p)
			require.NoError(t, err)
			assert.False(t, res.IsValid)
			assert.Equal(t, tt.codes, codes(res.Errors))
			assert.Empty(t, res.Warnings, "structural failures short-circuit")
		})
	}
}

func TestValidate_Presence(t *testing.T) {
	gormDB := yardtest.Open(t)
	v := newValidator(t, gormDB, nil)
	a := yardtest.Track(t, gormDB, "A", 0)
	b := yardtest.Track(t, gormDB, "B", 0)
	c := yardtest.Track(t, gormDB, "C", 0)
	onA := yardtest.Wagon(t, gormDB, "ONA", 10)
	fresh := yardtest.Wagon(t, gormDB, "NEW", 10)
	travelling := yardtest.Wagon(t, gormDB, "TRV", 10)

	yardtest.Move(t, gormDB, models.MovementDelivery, now.Add(-2*day), now, 0, a.ID, onA)
	yardtest.Move(t, gormDB, models.MovementDelivery, now.Add(-2*day), now, 0, a.ID, travelling)
	yardtest.Move(t, gormDB, models.MovementInternal, now.Add(2*day), now, a.ID, b.ID, travelling)

	tests := []struct {
		name  string
		p     Proposal
		codes []string
	}{
		{
			name:  "departure from the right track",
			p:     Proposal{Kind: models.MovementDeparture, ScheduledAt: now, SourceTrackID: ptr(a.ID), WagonIDs: []uint{onA.ID}},
			codes: []string{},
		},
		{
			name:  "departure from the wrong track",
			p:     Proposal{Kind: models.MovementDeparture, ScheduledAt: now, SourceTrackID: ptr(b.ID), WagonIDs: []uint{onA.ID}},
			codes: []string{CodeWagonNotPresent},
		},
		{
			name:  "never placed wagon is tolerated",
			p:     Proposal{Kind: models.MovementInternal, ScheduledAt: now, SourceTrackID: ptr(b.ID), DestTrackID: ptr(c.ID), WagonIDs: []uint{fresh.ID}},
			codes: []string{},
		},
		{
			name:  "future move from projected track",
			p:     Proposal{Kind: models.MovementInternal, ScheduledAt: now.Add(3 * day), SourceTrackID: ptr(b.ID), DestTrackID: ptr(c.ID), WagonIDs: []uint{travelling.ID}},
			codes: []string{},
		},
		{
			name:  "move that breaks a planned departure",
			p:     Proposal{Kind: models.MovementInternal, ScheduledAt: now.Add(day), SourceTrackID: ptr(a.ID), DestTrackID: ptr(c.ID), WagonIDs: []uint{travelling.ID}},
			codes: []string{CodeSequenceConflict},
		},
		{
			name:  "delivery of a placed wagon",
			p:     Proposal{Kind: models.MovementDelivery, ScheduledAt: now, DestTrackID: ptr(b.ID), WagonIDs: []uint{onA.ID}},
			codes: []string{CodeWagonAlreadyPlaced},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Validate(ctx, tt.p)
			require.NoError(t, err)
			assert.Equal(t, tt.codes, codes(res.Errors))
			assert.Equal(t, len(tt.codes) == 0, res.IsValid)
		})
	}
}

func TestValidate_PointerFallbackForWagonsWithoutEvents(t *testing.T) {
	gormDB := yardtest.Open(t)
	v := newValidator(t, gormDB, nil)
	a := yardtest.Track(t, gormDB, "A", 0)
	b := yardtest.Track(t, gormDB, "B", 0)
	w := yardtest.Wagon(t, gormDB, "LEGACY", 10)
	require.NoError(t, gormDB.Model(&w).Update("current_track_id", a.ID).Error)

	res, err := v.Validate(ctx, Proposal{Kind: models.MovementDelivery, ScheduledAt: now, DestTrackID: ptr(b.ID), WagonIDs: []uint{w.ID}})
	require.NoError(t, err)
	assert.Equal(t, []string{CodeWagonAlreadyPlaced}, codes(res.Errors))
}

func TestValidate_TimingWarnings(t *testing.T) {
	gormDB := yardtest.Open(t)
	v := newValidator(t, gormDB, nil)
	a := yardtest.Track(t, gormDB, "A", 0)
	b := yardtest.Track(t, gormDB, "B", 0)
	w := yardtest.Wagon(t, gormDB, "W1", 10)
	yardtest.Move(t, gormDB, models.MovementDelivery, now.Add(-day), now, 0, a.ID, w)

	// One planned move inside the buffer, one later on the same day.
	base := time.Date(2026, 5, 6, 8, 0, 0, 0, time.UTC)
	near := yardtest.Move(t, gormDB, models.MovementInternal, base.Add(time.Hour), now, a.ID, b.ID, w)
	later := yardtest.Move(t, gormDB, models.MovementInternal, base.Add(8*time.Hour), now, b.ID, a.ID, w)

	res, err := v.Validate(ctx, Proposal{
		Kind:          models.MovementDeparture,
		ScheduledAt:   base,
		SourceTrackID: ptr(a.ID),
		WagonIDs:      []uint{w.ID},
	})
	require.NoError(t, err)

	var timeConflict, sameDay []Warning
	for _, warn := range res.Warnings {
		switch warn.Code {
		case WarnTimeConflict:
			timeConflict = append(timeConflict, warn)
		case WarnSameDay:
			sameDay = append(sameDay, warn)
		}
	}
	require.Len(t, timeConflict, 1)
	assert.Equal(t, near.ID, timeConflict[0].Details["movement_id"])
	require.Len(t, sameDay, 1)
	assert.Equal(t, later.ID, sameDay[0].Details["movement_id"])
}

func TestValidate_SameDayWarningsCanBeDisabled(t *testing.T) {
	gormDB := yardtest.Open(t)
	engine := replay.New(gormDB, clock.NewFake(now), nil)
	v := New(gormDB, capacity.New(gormDB, engine, 0), nil, Options{SameDayWarnings: false}, nil)
	a := yardtest.Track(t, gormDB, "A", 0)
	b := yardtest.Track(t, gormDB, "B", 0)
	w := yardtest.Wagon(t, gormDB, "W1", 10)
	base := time.Date(2026, 5, 6, 8, 0, 0, 0, time.UTC)
	yardtest.Move(t, gormDB, models.MovementDelivery, base.Add(8*time.Hour), now, 0, b.ID, w)

	res, err := v.Validate(ctx, Proposal{Kind: models.MovementDelivery, ScheduledAt: base, DestTrackID: ptr(a.ID), WagonIDs: []uint{w.ID}})
	require.NoError(t, err)
	assert.NotContains(t, res.WarningCodes(), WarnSameDay)
}

func TestValidate_FutureCapacityWarning(t *testing.T) {
	gormDB := yardtest.Open(t)
	v := newValidator(t, gormDB, nil)
	tr := yardtest.Track(t, gormDB, "T", 100)
	resident := yardtest.Wagon(t, gormDB, "R", 50)
	incoming := yardtest.Wagon(t, gormDB, "I", 40)
	addition := yardtest.Wagon(t, gormDB, "A", 30)
	yardtest.Move(t, gormDB, models.MovementDelivery, now.Add(-day), now, 0, tr.ID, resident)
	planned := yardtest.Move(t, gormDB, models.MovementDelivery, now.Add(5*day), now, 0, tr.ID, incoming)

	res, err := v.Validate(ctx, Proposal{Kind: models.MovementDelivery, ScheduledAt: now, DestTrackID: ptr(tr.ID), WagonIDs: []uint{addition.ID}})
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	require.Equal(t, []string{WarnFutureCapacity}, res.WarningCodes())
	d := res.Warnings[0].Details
	assert.Equal(t, planned.ID, d["movement_id"])
	assert.Equal(t, 20, d["available_at_that_time"])
	assert.Equal(t, 40, d["required"])
	assert.Equal(t, 20, d["shortfall"])
}

func TestValidate_BackdatedCapacity(t *testing.T) {
	gormDB := yardtest.Open(t)
	v := newValidator(t, gormDB, nil)
	tr := yardtest.Track(t, gormDB, "T", 100)
	resident := yardtest.Wagon(t, gormDB, "R", 80)
	late := yardtest.Wagon(t, gormDB, "L", 50)
	short := yardtest.Wagon(t, gormDB, "S", 50)
	fits := yardtest.Wagon(t, gormDB, "F", 20)
	yardtest.Move(t, gormDB, models.MovementDelivery, now.Add(-time.Hour), now, 0, tr.ID, resident)
	// short is recorded leaving T before resident arrives.
	yardtest.Move(t, gormDB, models.MovementDeparture, now.Add(-2*time.Hour), now, tr.ID, 0, short)

	tests := []struct {
		name  string
		wagon models.Wagon
		valid bool
	}{
		{"overflows a later arrival", late, false},
		{"gone before the later arrival", short, true},
		{"fits alongside the later arrival", fits, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Validate(ctx, Proposal{
				Kind:        models.MovementDelivery,
				ScheduledAt: now.Add(-3 * time.Hour),
				DestTrackID: ptr(tr.ID),
				WagonIDs:    []uint{tt.wagon.ID},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.IsValid, "errors: %v", res.Errors)
			if tt.valid {
				return
			}
			require.Equal(t, []string{CodeInsufficientCapacity}, codes(res.Errors))
			assert.Contains(t, res.Errors[0].Message, "would hold 130 of 100")
			assert.Contains(t, res.Errors[0].Message, now.Add(-time.Hour).Format(time.RFC3339))
		})
	}
}

func TestValidate_DuplicateNumber(t *testing.T) {
	gormDB := yardtest.Open(t)
	v := newValidator(t, gormDB, nil)
	a := yardtest.Track(t, gormDB, "A", 0)
	b := yardtest.Track(t, gormDB, "B", 0)
	existing := yardtest.Wagon(t, gormDB, "31 80 0000 001-1", 10)
	twin := yardtest.Wagon(t, gormDB, "31 80 0000 001-1", 10)
	yardtest.Move(t, gormDB, models.MovementDelivery, now.Add(-day), now, 0, a.ID, existing)

	res, err := v.Validate(ctx, Proposal{Kind: models.MovementDelivery, ScheduledAt: now, DestTrackID: ptr(b.ID), WagonIDs: []uint{twin.ID}})
	require.NoError(t, err)
	assert.Equal(t, []string{CodeDuplicateNumber}, codes(res.Errors))

	// Landing on the same track keeps the number on one track.
	res, err = v.Validate(ctx, Proposal{Kind: models.MovementDelivery, ScheduledAt: now, DestTrackID: ptr(a.ID), WagonIDs: []uint{twin.ID}})
	require.NoError(t, err)
	assert.True(t, res.IsValid, "errors: %v", res.Errors)
}

func TestValidate_ExcludeMovement(t *testing.T) {
	gormDB := yardtest.Open(t)
	v := newValidator(t, gormDB, nil)
	tr := yardtest.Track(t, gormDB, "T", 100)
	w := yardtest.Wagon(t, gormDB, "W", 80)
	m := yardtest.Move(t, gormDB, models.MovementDelivery, now.Add(day), now, 0, tr.ID, w)

	p := Proposal{Kind: models.MovementDelivery, ScheduledAt: now.Add(day), DestTrackID: ptr(tr.ID), WagonIDs: []uint{w.ID}}
	res, err := v.Validate(ctx, p)
	require.NoError(t, err)
	assert.False(t, res.IsValid, "the stored movement already places the wagon")

	p.ExcludeMovementID = m.ID
	res, err = v.Validate(ctx, p)
	require.NoError(t, err)
	assert.True(t, res.IsValid, "errors: %v", res.Errors)
	assert.Empty(t, res.Warnings)
}

func TestValidate_RecordsMetrics(t *testing.T) {
	gormDB := yardtest.Open(t)
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	v := newValidator(t, gormDB, m)
	tr := yardtest.Track(t, gormDB, "T100", 100)
	w := yardtest.Wagon(t, gormDB, "BIG", 150)

	_, err = v.Validate(ctx, Proposal{Kind: models.MovementDelivery, ScheduledAt: now, DestTrackID: ptr(tr.ID), WagonIDs: []uint{w.ID}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Validations.WithLabelValues("delivery", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Findings.WithLabelValues("error", CodeInsufficientCapacity)))
}
