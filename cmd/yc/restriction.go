package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/yardcap/internal/models"
	"github.com/zulandar/yardcap/internal/restriction"
)

func newRestrictionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restriction",
		Short: "Manage no-entry and no-exit restrictions",
	}

	cmd.AddCommand(newRestrictionAddCmd())
	cmd.AddCommand(newRestrictionListCmd())
	cmd.AddCommand(newRestrictionActiveCmd())
	cmd.AddCommand(newRestrictionDeleteCmd())
	return cmd
}

func newRestrictionAddCmd() *cobra.Command {
	var (
		configPath string
		rType      string
		mode       string
		reason     string
		tracks     []string
		starts     string
		ends       string
		firstDay   string
		lastDay    string
		timeFrom   string
		timeTo     string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a restriction on one or more tracks",
		Long: `Adds a restriction and expands it into per-day windows.

Modes:
  range      one continuous span, --starts to --ends (RFC 3339)
  daily      --from to --to (HH:MM, yard time) on each day --first-day..--last-day
  permanent  --from to --to on every day; no times means the whole day`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, configPath, nil)
			if err != nil {
				return err
			}
			trackIDs, err := a.trackIDs(tracks)
			if err != nil {
				return err
			}
			spec := restriction.Spec{
				Mode:     models.RestrictionMode(mode),
				FirstDay: firstDay,
				LastDay:  lastDay,
				TimeFrom: timeFrom,
				TimeTo:   timeTo,
			}
			if starts != "" {
				if spec.StartsAt, err = time.Parse(time.RFC3339, starts); err != nil {
					return fmt.Errorf("invalid --starts %q: %w", starts, err)
				}
			}
			if ends != "" {
				if spec.EndsAt, err = time.Parse(time.RFC3339, ends); err != nil {
					return fmt.Errorf("invalid --ends %q: %w", ends, err)
				}
			}
			r, err := restriction.Create(a.db, restriction.CreateOpts{
				Type:     models.RestrictionType(rType),
				Reason:   reason,
				TrackIDs: trackIDs,
				Spec:     spec,
			}, a.cfg.Location())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created restriction %d (%s, %s) on %d tracks\n", r.ID, r.Type, r.Mode, len(r.Tracks))
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&rType, "type", "", "no_entry or no_exit (required)")
	cmd.Flags().StringVar(&mode, "mode", "", "range, daily or permanent (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "why the tracks are restricted")
	cmd.Flags().StringSliceVar(&tracks, "tracks", nil, "affected tracks, ids or names (required)")
	cmd.Flags().StringVar(&starts, "starts", "", "range start (RFC 3339)")
	cmd.Flags().StringVar(&ends, "ends", "", "range end (RFC 3339)")
	cmd.Flags().StringVar(&firstDay, "first-day", "", "first day of a daily restriction (YYYY-MM-DD)")
	cmd.Flags().StringVar(&lastDay, "last-day", "", "last day of a daily restriction (YYYY-MM-DD)")
	cmd.Flags().StringVar(&timeFrom, "from", "", "daily window start (HH:MM)")
	cmd.Flags().StringVar(&timeTo, "to", "", "daily window end (HH:MM, 24:00 allowed)")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("mode")
	cmd.MarkFlagRequired("tracks")
	return cmd
}

func newRestrictionListCmd() *cobra.Command {
	var (
		configPath string
		track      string
		rType      string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List restrictions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, configPath, nil)
			if err != nil {
				return err
			}
			trackID, err := a.trackID(track)
			if err != nil {
				return err
			}
			list, err := restriction.List(a.db, restriction.ListFilters{TrackID: trackID, Type: models.RestrictionType(rType)})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No restrictions found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tMODE\tWINDOW\tTRACKS\tREASON")
			for _, r := range list {
				ids := make([]string, len(r.Tracks))
				for i, t := range r.Tracks {
					ids[i] = fmt.Sprintf("%d", t.TrackID)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Type, r.Mode, describeWindow(r), strings.Join(ids, ","), dash(r.Reason))
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&track, "track", "", "only restrictions on this track")
	cmd.Flags().StringVar(&rType, "type", "", "only restrictions of this type")
	return cmd
}

func describeWindow(r models.Restriction) string {
	times := "all day"
	if r.TimeFrom != "" || r.TimeTo != "" {
		times = r.TimeFrom + "-" + r.TimeTo
	}
	switch r.Mode {
	case models.RestrictionRange:
		if r.StartsAt != nil && r.EndsAt != nil {
			return formatTime(*r.StartsAt) + " .. " + formatTime(*r.EndsAt)
		}
	case models.RestrictionDaily:
		return fmt.Sprintf("%s..%s %s", r.FirstDay, r.LastDay, times)
	case models.RestrictionPermanent:
		return "every day " + times
	}
	return "-"
}

func newRestrictionActiveCmd() *cobra.Command {
	var (
		configPath string
		kind       string
		at         string
		source     string
		dest       string
	)

	cmd := &cobra.Command{
		Use:   "active",
		Short: "Show the restrictions a movement would hit",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := models.ParseMovementKind(kind)
			if err != nil {
				return err
			}
			a, err := newApp(cmd, configPath, nil)
			if err != nil {
				return err
			}
			t, err := a.parseAt(at)
			if err != nil {
				return err
			}
			src, err := a.trackID(source)
			if err != nil {
				return err
			}
			dst, err := a.trackID(dest)
			if err != nil {
				return err
			}
			active, err := a.restrictions.Active(a.ctx(cmd), k, t, ptrOrNil(src), ptrOrNil(dst))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(active) == 0 {
				fmt.Fprintf(out, "No restrictions apply at %s.\n", formatTime(t))
				return nil
			}
			for _, r := range active {
				fmt.Fprintf(out, "restriction %d: %s on %s: %s\n", r.RestrictionID, r.Type, r.TrackName, dash(r.Reason))
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&kind, "kind", "", "movement kind (required)")
	cmd.Flags().StringVar(&at, "at", "", "point in time (RFC 3339, default now)")
	cmd.Flags().StringVar(&source, "source", "", "source track (id or name)")
	cmd.Flags().StringVar(&dest, "dest", "", "destination track (id or name)")
	cmd.MarkFlagRequired("kind")
	return cmd
}

func newRestrictionDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <restriction-id>",
		Short: "Delete a restriction",
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
			if err := restriction.Delete(a.db, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted restriction %d\n", id)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
