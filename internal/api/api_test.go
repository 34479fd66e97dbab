package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/yardcap/internal/capacity"
	"github.com/zulandar/yardcap/internal/clock"
	"github.com/zulandar/yardcap/internal/metrics"
	"github.com/zulandar/yardcap/internal/models"
	"github.com/zulandar/yardcap/internal/movement"
	"github.com/zulandar/yardcap/internal/replay"
	"github.com/zulandar/yardcap/internal/restriction"
	"github.com/zulandar/yardcap/internal/validate"
	"github.com/zulandar/yardcap/internal/yardtest"
	"gorm.io/gorm"
)

var now = yardtest.Base

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gormDB := yardtest.Open(t)
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	engine := replay.New(gormDB, clock.NewFake(now), m)
	restrictions := restriction.NewChecker(gormDB, time.UTC)
	v := validate.New(gormDB, capacity.New(gormDB, engine, 0), restrictions, validate.Options{SameDayWarnings: true}, m)
	router, err := NewRouter(Deps{
		DB:           gormDB,
		Movements:    movement.NewService(gormDB, v, m),
		Restrictions: restrictions,
		Metrics:      m,
		Log:          zerolog.Nop(),
	})
	require.NoError(t, err)
	return router, gormDB
}

func do(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestNewRouter_RequiresDeps(t *testing.T) {
	_, err := NewRouter(Deps{})
	assert.ErrorContains(t, err, "db is required")
}

func TestHealthAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t)

	w := do(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	w = do(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestID_Reused(t *testing.T) {
	router, _ := newTestRouter(t)
	id := "0b6c2c84-4ad9-4b4e-8f57-1ddc3a9fa6a1"
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, id)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, id, w.Header().Get(RequestIDHeader))
}

func TestTracksAndOccupancy(t *testing.T) {
	router, gormDB := newTestRouter(t)
	tr := yardtest.Track(t, gormDB, "T1", 300)
	w1 := yardtest.Wagon(t, gormDB, "W1", 120)
	yardtest.Place(t, gormDB, &w1, tr.ID, now.Add(-time.Hour))

	w := do(t, router, http.MethodGet, "/api/tracks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tracks []trackView
	decode(t, w, &tracks)
	require.Len(t, tracks, 1)
	assert.Equal(t, "T1", tracks[0].Name)

	w = do(t, router, http.MethodGet, "/api/tracks/1/occupants", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var snap replay.Snapshot
	decode(t, w, &snap)
	require.Len(t, snap.Occupants, 1)
	assert.Equal(t, w1.ID, snap.Occupants[0].WagonID)
	assert.Equal(t, "W1", snap.Occupants[0].Number)

	w = do(t, router, http.MethodGet, "/api/tracks/1/occupancy?at="+now.Format(time.RFC3339), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var occ capacity.Occupancy
	decode(t, w, &occ)
	assert.Equal(t, 120, occ.OccupiedLength)
	assert.Equal(t, 180, occ.AvailableLength)

	w = do(t, router, http.MethodGet, "/api/tracks/1/capacity?length=200", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report capacity.Report
	decode(t, w, &report)
	assert.False(t, report.HasCapacity)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"bad id", "/api/tracks/abc/occupancy", http.StatusBadRequest},
		{"unknown track", "/api/tracks/99/occupancy", http.StatusNotFound},
		{"unknown track occupants", "/api/tracks/99/occupants", http.StatusNotFound},
		{"bad at", "/api/tracks/1/occupancy?at=yesterday", http.StatusBadRequest},
		{"bad length", "/api/tracks/1/capacity?length=-5", http.StatusBadRequest},
		{"length past int32", "/api/tracks/1/capacity?length=2147483648", http.StatusBadRequest},
		{"length wrapping int64", "/api/tracks/1/capacity?length=18446744073709551615", http.StatusBadRequest},
		{"unlimited length", "/api/tracks/1/capacity?length=2147483647", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, do(t, router, http.MethodGet, tt.path, nil).Code)
		})
	}
}

func TestMovementLifecycle(t *testing.T) {
	router, gormDB := newTestRouter(t)
	tr := yardtest.Track(t, gormDB, "T1", 100)
	small := yardtest.Wagon(t, gormDB, "S", 60)
	big := yardtest.Wagon(t, gormDB, "B", 150)

	proposal := map[string]any{
		"kind":          "delivery",
		"scheduled_at":  now.Format(time.RFC3339),
		"dest_track_id": tr.ID,
		"wagon_ids":     []uint{big.ID},
	}
	w := do(t, router, http.MethodPost, "/api/movements/validate", proposal)
	require.Equal(t, http.StatusOK, w.Code)
	var res validate.Result
	decode(t, w, &res)
	assert.False(t, res.IsValid)
	assert.Equal(t, []string{validate.CodeInsufficientCapacity}, res.ErrorCodes())

	w = do(t, router, http.MethodPost, "/api/movements", proposal)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	proposal["wagon_ids"] = []uint{small.ID}
	w = do(t, router, http.MethodPost, "/api/movements", proposal)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Movement movementView `json:"movement"`
	}
	decode(t, w, &created)
	assert.Equal(t, []uint{small.ID}, created.Movement.WagonIDs)

	w = do(t, router, http.MethodGet, "/api/movements?track=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []movementView
	decode(t, w, &list)
	assert.Len(t, list, 1)

	w = do(t, router, http.MethodGet, "/api/wagons/1/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hist historyView
	decode(t, w, &hist)
	require.Len(t, hist.Events, 1)
	assert.Equal(t, models.EventDelivery, hist.Events[0].Kind)

	w = do(t, router, http.MethodDelete, "/api/movements/1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"unplaced"`)

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodDelete, "/api/movements/1", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/wagons/99/history", nil).Code)
}

func TestMovementCreate_Unacknowledged(t *testing.T) {
	router, gormDB := newTestRouter(t)
	tr := yardtest.Track(t, gormDB, "T1", 300)
	wagon := yardtest.Wagon(t, gormDB, "W1", 20)

	w := do(t, router, http.MethodPost, "/api/restrictions", map[string]any{
		"type":      "no_entry",
		"mode":      "range",
		"reason":    "track works",
		"track_ids": []uint{tr.ID},
		"starts_at": now.Add(-time.Hour).Format(time.RFC3339),
		"ends_at":   now.Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	proposal := map[string]any{
		"kind":          "delivery",
		"scheduled_at":  now.Format(time.RFC3339),
		"dest_track_id": tr.ID,
		"wagon_ids":     []uint{wagon.ID},
	}
	w = do(t, router, http.MethodPost, "/api/movements", proposal)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), validate.WarnRestrictionActive)

	proposal["acknowledge"] = true
	w = do(t, router, http.MethodPost, "/api/movements", proposal)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestRestrictions(t *testing.T) {
	router, gormDB := newTestRouter(t)
	tr := yardtest.Track(t, gormDB, "T1", 300)

	w := do(t, router, http.MethodPost, "/api/restrictions", map[string]any{
		"type":      "no_exit",
		"mode":      "permanent",
		"track_ids": []uint{tr.ID},
		"time_from": "11:00",
		"time_to":   "13:00",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created restrictionView
	decode(t, w, &created)
	assert.Equal(t, []uint{tr.ID}, created.TrackIDs)

	w = do(t, router, http.MethodGet, "/api/restrictions/active?kind=departure&source=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var active []restriction.Active
	decode(t, w, &active)
	require.Len(t, active, 1)
	assert.Equal(t, models.NoExit, active[0].Type)

	w = do(t, router, http.MethodGet, "/api/restrictions/active?kind=delivery&dest=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))

	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/api/restrictions/active?kind=teleport", nil).Code)

	w = do(t, router, http.MethodPost, "/api/restrictions", map[string]any{
		"type":      "no_exit",
		"mode":      "daily",
		"track_ids": []uint{tr.ID},
		"first_day": "2026-05-10",
		"last_day":  "2026-05-01",
		"time_from": "11:00",
		"time_to":   "13:00",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/restrictions", map[string]any{"mode": "range"}).Code)

	w = do(t, router, http.MethodGet, "/api/restrictions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []restrictionView
	decode(t, w, &list)
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodDelete, "/api/restrictions/1", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodDelete, "/api/restrictions/1", nil).Code)
}
