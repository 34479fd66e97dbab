package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/yardcap/internal/yard"
)

func newTrackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Track commands",
	}

	cmd.AddCommand(newTrackListCmd())
	cmd.AddCommand(newTrackOccupancyCmd())
	cmd.AddCommand(newTrackOccupantsCmd())
	cmd.AddCommand(newTrackCapacityCmd())
	return cmd
}

func newTrackListCmd() *cobra.Command {
	var (
		configPath string
		node       string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracks",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, configPath, nil)
			if err != nil {
				return err
			}
			tracks, err := yard.ListTracks(a.db, node)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(tracks) == 0 {
				fmt.Fprintln(out, "No tracks found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tLENGTH")
			for _, tr := range tracks {
				fmt.Fprintf(w, "%d\t%s\t%s\n", tr.ID, tr.Name, formatLength(tr.Length, tr.Unlimited()))
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&node, "node", "", "only tracks of this node")
	return cmd
}

func newTrackOccupancyCmd() *cobra.Command {
	var configPath, at string

	cmd := &cobra.Command{
		Use:   "occupancy <track>",
		Short: "Show occupied and available length of a track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, configPath, nil)
			if err != nil {
				return err
			}
			id, err := a.trackID(args[0])
			if err != nil {
				return err
			}
			t, err := a.parseAt(at)
			if err != nil {
				return err
			}
			occ, err := a.capacity.OccupancyAt(a.ctx(cmd), id, t)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Track %s at %s\n", args[0], formatTime(occ.At))
			fmt.Fprintf(out, "  total:     %s\n", formatLength(occ.TotalLength, occ.Unlimited))
			fmt.Fprintf(out, "  occupied:  %d (%d wagons)\n", occ.OccupiedLength, occ.WagonCount)
			fmt.Fprintf(out, "  available: %s\n", formatLength(occ.AvailableLength, occ.Unlimited))
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&at, "at", "", "point in time (RFC 3339, default now)")
	return cmd
}

func newTrackOccupantsCmd() *cobra.Command {
	var configPath, at string

	cmd := &cobra.Command{
		Use:   "occupants <track>",
		Short: "List the wagons on a track in arrival order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, configPath, nil)
			if err != nil {
				return err
			}
			id, err := a.trackID(args[0])
			if err != nil {
				return err
			}
			t, err := a.parseAt(at)
			if err != nil {
				return err
			}
			snap, err := a.replay.OccupantsAt(a.ctx(cmd), id, t)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(snap.Occupants) == 0 {
				fmt.Fprintf(out, "Track %s is empty at %s.\n", args[0], formatTime(snap.At))
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "POS\tWAGON\tNUMBER\tLENGTH\tCONTENT\tARRIVED")
			for _, o := range snap.Occupants {
				fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%s\t%s\n",
					o.Position, o.WagonID, dash(o.Number), o.Length, dash(o.Content), formatTime(o.ArrivedAt))
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&at, "at", "", "point in time (RFC 3339, default now)")
	return cmd
}

func newTrackCapacityCmd() *cobra.Command {
	var (
		configPath string
		at         string
		length     int
	)

	cmd := &cobra.Command{
		Use:   "capacity <track>",
		Short: "Check whether extra length fits and which planned arrivals it would block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if length < 0 {
				return fmt.Errorf("--length must not be negative")
			}
			a, err := newApp(cmd, configPath, nil)
			if err != nil {
				return err
			}
			id, err := a.trackID(args[0])
			if err != nil {
				return err
			}
			t, err := a.parseAt(at)
			if err != nil {
				return err
			}
			report, err := a.capacity.CheckWithConflicts(a.ctx(cmd), id, t, length)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			verdict := "fits"
			if !report.HasCapacity {
				verdict = "does not fit"
			}
			fmt.Fprintf(out, "%d %s on track %s at %s (available %d)\n",
				length, verdict, args[0], formatTime(report.At), report.AvailableLength)
			for _, c := range report.FutureConflicts {
				fmt.Fprintf(out, "  conflict: movement %d at %s needs %d, %d left (short %d)\n",
					c.MovementID, formatTime(c.ScheduledAt), c.Required, c.AvailableAtThatTime, c.Shortfall)
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&at, "at", "", "point in time (RFC 3339, default now)")
	cmd.Flags().IntVar(&length, "length", 0, "additional length to place")
	return cmd
}
