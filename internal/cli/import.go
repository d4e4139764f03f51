package cli

import (
	"cmp"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/erazemk/nxledger/internal/ledger"
	"github.com/erazemk/nxledger/internal/model"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Owner  string
	DryRun bool
}

// ImportedContainer reports the outcome for one manifest entry.
type ImportedContainer struct {
	Kind    model.ContainerKind `json:"kind"`
	Tag     string              `json:"tag"`
	Created bool                `json:"created"`
	Added   int                 `json:"added"`
	Removed int                 `json:"removed"`
	Skipped []ledger.Skip       `json:"skipped,omitempty"`
}

// ImportResult holds the overall import result.
type ImportResult struct {
	DryRun     bool                `json:"dry_run,omitempty"`
	Containers []ImportedContainer `json:"containers"`
	Skipped    int                 `json:"skipped"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import MANIFEST",
		Short: "Load containers and their parts from a YAML manifest",
		Long: `Create or update every container in the manifest and make its contents
match the listed parts. Parts in the manifest are migrated: they start new
chains in the container instead of being taken from an inventory. Parts no
longer listed are moved to --owner, or deleted when no owner is given.

Pallets are imported before the assets and boxes that sit on them.

  by: 0192f7a4-...          # user recorded on every version (optional)
  containers:
    - kind: pallet
      tag: P7
      building: 1
      location: Dock 2
    - kind: asset
      tag: A100
      pallet_tag: P7
      parts:
        - nxid: PNX000001
          quantity: 4

Exit codes:
  0 - Every part was imported
  1 - Some parts were skipped
  2 - Command error`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Owner, "owner", "", "user ID that receives parts removed from containers")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report what would change without writing")

	return cmd
}

func runImport(cmd *cobra.Command, opts *ImportOptions, path string) error {
	m, err := readManifest(cmd.InOrStdin(), path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read manifest", err)
	}

	entries := make([]model.Container, len(m.Containers))
	for i, mc := range m.Containers {
		kind, err := model.ParseContainerKind(mc.Kind)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("container %d", i+1), err)
		}
		entries[i] = model.Container{
			Kind:       kind,
			Tag:        mc.Tag,
			Building:   mc.Building,
			Location:   mc.Location,
			PalletTag:  mc.PalletTag,
			Notes:      mc.Notes,
			Attributes: mc.Attributes,
		}
	}
	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(kindRank(entries[a].Kind), kindRank(entries[b].Kind))
	})

	counterpart := model.Deleted()
	if opts.Owner != "" {
		counterpart = model.OwnedBy(opts.Owner)
	}

	e, err := openEnv(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := cmd.Context()
	f := formatter(cmd, opts.RootOptions)

	result := ImportResult{DryRun: opts.DryRun, Containers: []ImportedContainer{}}
	for _, i := range order {
		c := entries[i]
		u := ledger.ContainerUpdate{
			Container:   c,
			Parts:       cartItems(m.Containers[i].Parts),
			Counterpart: counterpart,
			By:          m.By,
			Migrated:    true,
			DryRun:      opts.DryRun,
		}

		head, err := e.backend.ContainerHead(ctx, c.Kind, c.Tag)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load container", err)
		}

		var res *ledger.ContainerResult
		if head == nil {
			res, err = e.service.CreateContainer(ctx, u)
		} else {
			res, err = e.service.UpdateContainer(ctx, u)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("importing %s %s", c.Kind, c.Tag), err)
		}

		ic := ImportedContainer{
			Kind:    c.Kind,
			Tag:     c.Tag,
			Created: head == nil,
			Added:   countItems(res.Added),
			Removed: countItems(res.Removed),
		}
		if res.Parts != nil {
			ic.Skipped = res.Parts.Skipped
		}
		result.Skipped += len(ic.Skipped)
		result.Containers = append(result.Containers, ic)
		f.VerboseLog("%s %s: +%d -%d, %d skipped", c.Kind, c.Tag, ic.Added, ic.Removed, len(ic.Skipped))
	}

	err = f.Print(result, func(w io.Writer) {
		for _, ic := range result.Containers {
			verb := "updated"
			if ic.Created {
				verb = "created"
			}
			fmt.Fprintf(w, "%s %s %s: +%d -%d\n", ic.Kind, ic.Tag, verb, ic.Added, ic.Removed)
			for _, s := range ic.Skipped {
				fmt.Fprintf(w, "  skipped %s: %s\n", itemString(s.Item), s.Reason)
			}
		}
		if opts.DryRun {
			fmt.Fprintln(w, "Dry run, nothing written.")
		}
	})
	if err != nil {
		return err
	}
	if result.Skipped > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d entries skipped", result.Skipped))
	}
	return nil
}

// kindRank orders pallets before the containers that reference them.
func kindRank(kind model.ContainerKind) int {
	if kind == model.KindPallet {
		return 0
	}
	return 1
}

func countItems(items []model.CartItem) int {
	n := 0
	for _, item := range items {
		if item.IsSerialized() {
			n++
		} else {
			n += item.Quantity
		}
	}
	return n
}
