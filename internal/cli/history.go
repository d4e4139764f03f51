package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/erazemk/nxledger/internal/model"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Page int
	Size int
	Date string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history LOCATION...",
		Short: "Show what a location held over time",
		Long: `Reconstruct the history of a location from its version chains, newest first.

A location is one of:
  asset TAG | pallet TAG | box TAG
  room BUILDING NAME
  owner USER_ID
  serial SERIAL     (every record of one serialized unit)

Examples:
  nxledgerctl history asset A100
  nxledgerctl history room 1 Kiosk --page 2
  nxledgerctl history pallet P7 --date 2026-03-01T12:00:00Z
  nxledgerctl history serial SN12345 --format json`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts, args)
		},
	}

	cmd.Flags().IntVar(&opts.Page, "page", 1, "page number, from 1")
	cmd.Flags().IntVar(&opts.Size, "size", 10, "events per page")
	cmd.Flags().StringVar(&opts.Date, "date", "", "show the single event at this instant (RFC 3339 or unix ms)")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions, args []string) error {
	f := formatter(cmd, opts.RootOptions)

	var serial string
	var loc model.Location
	if args[0] == "serial" {
		serial = args[1]
	} else {
		var err error
		if loc, err = parseLocation(args); err != nil {
			return WrapExitError(ExitCommandError, "invalid location", err)
		}
	}

	e, err := openEnv(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := cmd.Context()

	if serial != "" {
		recs, err := e.auditor.SerialHistory(ctx, serial)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load serial history", err)
		}
		if len(recs) == 0 {
			return NewExitError(ExitFailure, "no records for serial "+serial)
		}
		return f.Print(recs, func(w io.Writer) {
			for _, rec := range recs {
				where, err := model.LocationOf(rec)
				place := where.String()
				if err != nil {
					place = "?"
				}
				fmt.Fprintf(w, "%s  %-36s  %s  by %s\n", rec.DateCreated.Format(time.RFC3339), rec.ID, place, rec.By)
			}
		})
	}

	if opts.Date != "" {
		date, err := parseDate(opts.Date)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid date", err)
		}
		ev, err := e.history.EventsAt(ctx, loc, date)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to reconstruct event", err)
		}
		return f.Print(ev, func(w io.Writer) { printEvent(w, ev) })
	}

	page, err := e.history.HistoryPage(ctx, loc, opts.Page, opts.Size)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load history", err)
	}
	f.VerboseLog("%s: %d events on %d pages", loc, page.Total, page.Pages)
	return f.Print(page, func(w io.Writer) {
		if page.Total == 0 {
			fmt.Fprintf(w, "No history for %s.\n", loc)
			return
		}
		for i := range page.Events {
			printEvent(w, &page.Events[i])
		}
		fmt.Fprintf(w, "Page %d of %d (%d events).\n", opts.Page, page.Pages, page.Total)
	})
}

// parseLocation reads a location from its command line words.
func parseLocation(args []string) (model.Location, error) {
	var loc model.Location
	switch args[0] {
	case "room":
		if len(args) < 3 {
			return loc, fmt.Errorf("room needs a building and a name")
		}
		building, err := strconv.Atoi(args[1])
		if err != nil {
			return loc, fmt.Errorf("building %q: %w", args[1], err)
		}
		loc = model.Room(building, strings.Join(args[2:], " "))
	case "owner", "user":
		loc = model.OwnedBy(args[1])
	default:
		kind, err := model.ParseContainerKind(args[0])
		if err != nil {
			return loc, err
		}
		loc = model.InContainer(kind, args[1])
	}
	return loc, loc.Validate()
}

func parseDate(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func printEvent(w io.Writer, ev *model.Event) {
	fmt.Fprintf(w, "%s by %s", ev.Date.Format(time.RFC3339Nano), ev.By)
	if ev.InfoUpdated && ev.Container != nil {
		fmt.Fprintf(w, " (%s %s at %q)", ev.Container.Kind, ev.Container.Tag, ev.Container.Location)
	}
	fmt.Fprintln(w)
	printGroups(w, "+", ev.Added)
	printGroups(w, "-", ev.Removed)
	printGroups(w, " ", ev.Existing)
	printRefs(w, "+", "asset", ev.AddedAssets)
	printRefs(w, "-", "asset", ev.RemovedAssets)
	printRefs(w, " ", "asset", ev.ExistingAssets)
	printRefs(w, "+", "box", ev.AddedBoxes)
	printRefs(w, "-", "box", ev.RemovedBoxes)
	printRefs(w, " ", "box", ev.ExistingBoxes)
}

func printGroups(w io.Writer, mark string, groups []model.PartGroup) {
	for _, g := range groups {
		fmt.Fprintf(w, "  %s %s", mark, g.NXID)
		if g.Serial != "" {
			fmt.Fprintf(w, " %s", g.Serial)
		} else {
			fmt.Fprintf(w, " x%d", g.Quantity)
		}
		if g.NextOwner != "" {
			fmt.Fprintf(w, " -> %s", g.NextOwner)
		}
		fmt.Fprintln(w)
	}
}

func printRefs(w io.Writer, mark, kind string, refs []model.ContainerRef) {
	for _, r := range refs {
		fmt.Fprintf(w, "  %s %s %s\n", mark, kind, r.Tag)
	}
}
