package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zulandar/yardcap/internal/capacity"
	"github.com/zulandar/yardcap/internal/clock"
	"github.com/zulandar/yardcap/internal/config"
	"github.com/zulandar/yardcap/internal/db"
	"github.com/zulandar/yardcap/internal/logging"
	"github.com/zulandar/yardcap/internal/metrics"
	"github.com/zulandar/yardcap/internal/movement"
	"github.com/zulandar/yardcap/internal/replay"
	"github.com/zulandar/yardcap/internal/restriction"
	"github.com/zulandar/yardcap/internal/validate"
	"github.com/zulandar/yardcap/internal/yard"
	"gorm.io/gorm"
)

const defaultConfigPath = "yardcap.yaml"

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", defaultConfigPath, "path to Yardcap config file")
}

// app wires the services every command works with.
type app struct {
	cfg          *config.Config
	db           *gorm.DB
	log          zerolog.Logger
	clock        clock.Clock
	metrics      *metrics.Collector
	replay       *replay.Engine
	capacity     *capacity.Checker
	restrictions *restriction.Checker
	movements    *movement.Service
}

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	return cfg, gormDB, nil
}

// newApp loads the config, opens the store and builds the services. reg may
// be nil when the command does not expose metrics.
func newApp(cmd *cobra.Command, configPath string, reg prometheus.Registerer) (*app, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Out: cmd.ErrOrStderr()}).
		With().Str("yard", cfg.Yard).Logger()

	var m *metrics.Collector
	if reg != nil {
		if m, err = metrics.New(reg); err != nil {
			return nil, err
		}
	}

	loc := cfg.Location()
	clk := clock.Real{}
	engine := replay.New(gormDB, clk, m)
	capChecker := capacity.New(gormDB, engine, cfg.Validation.ConflictHorizon)
	restrictions := restriction.NewChecker(gormDB, loc)
	v := validate.New(gormDB, capChecker, restrictions, validate.Options{
		ConflictBuffer:  cfg.Validation.ConflictBuffer,
		SameDayWarnings: cfg.Validation.SameDay(),
		Location:        loc,
	}, m)

	return &app{
		cfg:          cfg,
		db:           gormDB,
		log:          log,
		clock:        clk,
		metrics:      m,
		replay:       engine,
		capacity:     capChecker,
		restrictions: restrictions,
		movements:    movement.NewService(gormDB, v, m),
	}, nil
}

// ctx returns the command context carrying the app logger.
func (a *app) ctx(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return logging.Into(ctx, a.log)
}

// trackID resolves a track given by id or by name.
func (a *app) trackID(ref string) (uint, error) {
	if ref == "" {
		return 0, nil
	}
	if id, err := strconv.ParseUint(ref, 10, 64); err == nil {
		tr, err := yard.GetTrack(a.db, uint(id))
		if err != nil {
			return 0, err
		}
		return tr.ID, nil
	}
	tr, err := yard.TrackByName(a.db, ref)
	if err != nil {
		return 0, err
	}
	return tr.ID, nil
}

func (a *app) trackIDs(refs []string) ([]uint, error) {
	ids := make([]uint, 0, len(refs))
	for _, ref := range refs {
		id, err := a.trackID(ref)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseAt parses an RFC 3339 timestamp. Empty means now.
func (a *app) parseAt(s string) (time.Time, error) {
	if s == "" {
		return clock.Normalize(a.clock.Now()), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (want RFC 3339, e.g. 2026-05-04T12:00:00Z)", s)
	}
	return clock.Normalize(t), nil
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint(id), nil
}

func ptrOrNil(id uint) *uint {
	if id == 0 {
		return nil
	}
	return &id
}
