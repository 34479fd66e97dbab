package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/yardcap/internal/sweep"
)

func newSweepCmd() *cobra.Command {
	var (
		configPath string
		daemon     bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Flip due planned movements to executed",
		Long:  "Marks planned movements whose time has come as executed and refreshes wagon positions. With --daemon, keeps running on the configured cron schedule.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, configPath, nil)
			if err != nil {
				return err
			}
			d, err := sweep.New(a.movements, a.cfg.Sweep.Schedule, a.log)
			if err != nil {
				return err
			}
			if !daemon {
				n, err := d.RunOnce(a.ctx(cmd))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Flipped %d movements\n", n)
				return nil
			}

			ctx, stop := signal.NotifyContext(a.ctx(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return d.Run(ctx)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&daemon, "daemon", false, "keep running on the configured schedule")
	return cmd
}

