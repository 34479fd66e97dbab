package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/yardcap/internal/models"
	"github.com/zulandar/yardcap/internal/movement"
	"github.com/zulandar/yardcap/internal/validate"
	"golang.org/x/term"
)

func newMovementCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "movement",
		Short: "Validate, create and delete movements",
	}

	cmd.AddCommand(newMovementValidateCmd())
	cmd.AddCommand(newMovementCreateCmd())
	cmd.AddCommand(newMovementDeleteCmd())
	cmd.AddCommand(newMovementListCmd())
	return cmd
}

// proposalFlags are shared by validate and create.
type proposalFlags struct {
	kind   string
	at     string
	from   string
	to     string
	wagons []uint
	note   string
}

func (f *proposalFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "kind", "", "delivery, departure or internal (required)")
	cmd.Flags().StringVar(&f.at, "at", "", "scheduled time (RFC 3339, default now)")
	cmd.Flags().StringVar(&f.from, "from", "", "source track (id or name)")
	cmd.Flags().StringVar(&f.to, "to", "", "destination track (id or name)")
	cmd.Flags().UintSliceVar(&f.wagons, "wagons", nil, "wagon ids, comma separated (required)")
	cmd.Flags().StringVar(&f.note, "note", "", "free-form note")
	cmd.MarkFlagRequired("kind")
	cmd.MarkFlagRequired("wagons")
}

func (f *proposalFlags) proposal(a *app) (validate.Proposal, error) {
	kind, err := models.ParseMovementKind(f.kind)
	if err != nil {
		return validate.Proposal{}, err
	}
	at, err := a.parseAt(f.at)
	if err != nil {
		return validate.Proposal{}, err
	}
	src, err := a.trackID(f.from)
	if err != nil {
		return validate.Proposal{}, err
	}
	dst, err := a.trackID(f.to)
	if err != nil {
		return validate.Proposal{}, err
	}
	return validate.Proposal{
		Kind:          kind,
		ScheduledAt:   at,
		SourceTrackID: ptrOrNil(src),
		DestTrackID:   ptrOrNil(dst),
		WagonIDs:      f.wagons,
		Note:          f.note,
	}, nil
}

func printResult(out io.Writer, res *validate.Result) {
	if res.IsValid {
		fmt.Fprintln(out, "Valid.")
	} else {
		fmt.Fprintln(out, "Invalid.")
	}
	for _, e := range res.Errors {
		fmt.Fprintf(out, "  error   %s (%s): %s\n", e.Code, e.Field, e.Message)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "  warning %s: %s\n", w.Code, w.Message)
	}
}

func newMovementValidateCmd() *cobra.Command {
	var (
		configPath string
		flags      proposalFlags
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a proposed movement without writing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, configPath, nil)
			if err != nil {
				return err
			}
			p, err := flags.proposal(a)
			if err != nil {
				return err
			}
			res, err := a.movements.Validator().Validate(a.ctx(cmd), p)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			if !res.IsValid {
				return movement.ErrInvalid
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	flags.register(cmd)
	return cmd
}

func newMovementCreateCmd() *cobra.Command {
	var (
		configPath string
		flags      proposalFlags
		ack        bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Validate and record a movement",
		Long:  "Validates the movement and records it. Warnings block the write unless --ack is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, configPath, nil)
			if err != nil {
				return err
			}
			p, err := flags.proposal(a)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			m, res, err := a.movements.Create(a.ctx(cmd), p, ack)
			if res != nil && (err != nil || len(res.Warnings) > 0) {
				printResult(out, res)
			}
			if errors.Is(err, movement.ErrUnacknowledged) {
				return fmt.Errorf("%w (re-run with --ack to accept them)", err)
			}
			if err != nil {
				return err
			}
			state := "executed"
			if m.IsPlanned {
				state = "planned"
			}
			fmt.Fprintf(out, "Created movement %d (%s %s, %d wagons, %s)\n",
				m.ID, m.Kind, formatTime(m.ScheduledAt), len(m.Wagons), state)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	flags.register(cmd)
	cmd.Flags().BoolVar(&ack, "ack", false, "acknowledge warnings and write anyway")
	return cmd
}

func newMovementDeleteCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "delete <movement-id>",
		Short: "Delete a movement and revert its effect on wagon positions",
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
			m, err := a.movements.Get(a.ctx(cmd), id)
			if err != nil {
				return err
			}
			if !yes {
				ok, err := confirmDelete(cmd, m)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}
			res, err := a.movements.Delete(a.ctx(cmd), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Deleted movement %d\n", id)
			for _, o := range res.Outcomes {
				fmt.Fprintf(out, "  wagon %d: %s", o.WagonID, o.Status)
				if o.TrackID != nil {
					fmt.Fprintf(out, " (track %d)", *o.TrackID)
				}
				if o.Reason != "" {
					fmt.Fprintf(out, ": %s", o.Reason)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

// confirmDelete asks before deleting. A non-interactive stdin without --yes
// is refused rather than treated as consent.
func confirmDelete(cmd *cobra.Command, m *models.Movement) (bool, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		return false, fmt.Errorf("stdin is not a terminal; pass --yes to delete movement %d", m.ID)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Delete %s movement %d at %s carrying %d wagons?\n",
		m.Kind, m.ID, formatTime(m.ScheduledAt), len(m.Wagons))
	fmt.Fprint(out, "Type \"yes\" to confirm: ")

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()) == "yes", nil
	}
	return false, nil
}

func newMovementListCmd() *cobra.Command {
	var (
		configPath string
		track      string
		wagon      uint
		kind       string
		planned    bool
		executed   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List movements in schedule order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if planned && executed {
				return fmt.Errorf("--planned and --executed are mutually exclusive")
			}
			a, err := newApp(cmd, configPath, nil)
			if err != nil {
				return err
			}
			trackID, err := a.trackID(track)
			if err != nil {
				return err
			}
			filters := movement.ListFilters{TrackID: trackID, WagonID: wagon, Kind: models.MovementKind(kind)}
			if planned || executed {
				filters.Planned = &planned
			}
			list, err := a.movements.List(a.ctx(cmd), filters)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No movements found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tSCHEDULED\tFROM\tTO\tWAGONS\tPLANNED")
			for _, m := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%t\n",
					m.ID, m.Kind, formatTime(m.ScheduledAt), formatTrack(m.SourceTrackID), formatTrack(m.DestTrackID), len(m.Wagons), m.IsPlanned)
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&track, "track", "", "only movements from or to this track")
	cmd.Flags().UintVar(&wagon, "wagon", 0, "only movements carrying this wagon")
	cmd.Flags().StringVar(&kind, "kind", "", "only movements of this kind")
	cmd.Flags().BoolVar(&planned, "planned", false, "only movements still in the future")
	cmd.Flags().BoolVar(&executed, "executed", false, "only movements already due")
	return cmd
}
