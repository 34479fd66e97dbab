package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/yardcap/internal/ledger"
	"github.com/zulandar/yardcap/internal/yard"
)

func newWagonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wagon",
		Short: "Wagon commands",
	}

	cmd.AddCommand(newWagonAddCmd())
	cmd.AddCommand(newWagonListCmd())
	cmd.AddCommand(newWagonHistoryCmd())
	return cmd
}

func newWagonAddCmd() *cobra.Command {
	var (
		configPath string
		number     string
		length     int
		content    string
		track      string
		at         string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a wagon, optionally placing it on a track",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, configPath, nil)
			if err != nil {
				return err
			}
			w, err := yard.CreateWagon(a.db, yard.WagonOpts{Number: number, Length: length, Content: content})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created wagon %d (length %d)\n", w.ID, w.Length)
			if track == "" {
				return nil
			}
			trackID, err := a.trackID(track)
			if err != nil {
				return err
			}
			t, err := a.parseAt(at)
			if err != nil {
				return err
			}
			if _, err := yard.PlaceWagon(a.ctx(cmd), a.db, a.capacity, w.ID, trackID, t); err != nil {
				return err
			}
			fmt.Fprintf(out, "Placed wagon %d on track %s at %s\n", w.ID, track, formatTime(t))
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&number, "number", "", "external wagon number")
	cmd.Flags().IntVar(&length, "length", 0, "wagon length (required)")
	cmd.Flags().StringVar(&content, "content", "", "load description")
	cmd.Flags().StringVar(&track, "track", "", "place the wagon on this track (id or name)")
	cmd.Flags().StringVar(&at, "at", "", "placement time (RFC 3339, default now)")
	cmd.MarkFlagRequired("length")
	return cmd
}

func newWagonListCmd() *cobra.Command {
	var (
		configPath string
		track      string
		number     string
		unplaced   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List wagons",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, configPath, nil)
			if err != nil {
				return err
			}
			trackID, err := a.trackID(track)
			if err != nil {
				return err
			}
			wagons, err := yard.ListWagons(a.db, yard.WagonFilters{TrackID: trackID, Number: number, Unplaced: unplaced})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(wagons) == 0 {
				fmt.Fprintln(out, "No wagons found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNUMBER\tLENGTH\tCONTENT\tTRACK")
			for _, wg := range wagons {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n",
					wg.ID, dash(wg.NumberString()), wg.Length, dash(wg.Content), formatTrack(wg.CurrentTrackID))
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&track, "track", "", "only wagons currently on this track")
	cmd.Flags().StringVar(&number, "number", "", "only wagons with this number")
	cmd.Flags().BoolVar(&unplaced, "unplaced", false, "only wagons off the yard")
	return cmd
}

func newWagonHistoryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "history <wagon-id>",
		Short: "Show the ledger of a wagon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd, configPath, nil)
			if err != nil {
				return err
			}
			if _, err := yard.GetWagon(a.db, id); err != nil {
				return err
			}
			events, err := ledger.History(a.db, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintf(out, "Wagon %d has no history.\n", id)
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tKIND\tFROM\tTO\tMOVEMENT\tNOTE")
			for _, ev := range events {
				mov := "-"
				switch {
				case ev.MovementID != nil:
					mov = strconv.FormatUint(uint64(*ev.MovementID), 10)
				case ev.DetachedFrom != nil:
					mov = fmt.Sprintf("%d (deleted)", *ev.DetachedFrom)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					formatTime(ev.OccurredAt), ev.Kind, formatTrack(ev.PreviousTrackID), formatTrack(ev.TrackID), mov, dash(ev.Note))
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
