package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/zulandar/yardcap/internal/api"
	"github.com/zulandar/yardcap/internal/sweep"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		noSweep    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the sweep daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, configPath, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			if port <= 0 {
				port = a.cfg.API.Port
			}

			ctx, stop := signal.NotifyContext(a.ctx(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return api.Start(ctx, api.StartOpts{
					Deps: api.Deps{
						DB:           a.db,
						Movements:    a.movements,
						Restrictions: a.restrictions,
						Location:     a.cfg.Location(),
						Metrics:      a.metrics,
						Log:          a.log,
					},
					Port: port,
					Out:  cmd.OutOrStdout(),
				})
			})
			if !noSweep {
				d, err := sweep.New(a.movements, a.cfg.Sweep.Schedule, a.log)
				if err != nil {
					return err
				}
				g.Go(func() error { return d.Run(ctx) })
			}
			return g.Wait()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config)")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not run the sweep daemon")
	return cmd
}
