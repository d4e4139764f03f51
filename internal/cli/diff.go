package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/erazemk/nxledger/internal/ledger"
	"github.com/erazemk/nxledger/internal/model"
)

// DiffOptions holds flags for the diff command.
type DiffOptions struct {
	*RootOptions
	Cart string
}

// DiffResult is what would change if the cart were submitted.
type DiffResult struct {
	Kind    model.ContainerKind `json:"kind"`
	Tag     string              `json:"tag"`
	Added   []model.CartItem    `json:"added"`
	Removed []model.CartItem    `json:"removed"`
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DiffOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "diff KIND TAG --cart FILE",
		Short: "Compare a YAML cart with a container's current parts",
		Long: `Normalize and validate a cart, then print the parts that submitting it would
add to or remove from the container. Nothing is written.

The cart is a YAML list:
  - nxid: PNX000001
    quantity: 2
  - nxid: PNX000002
    serial: SN12345

Exit codes:
  0 - The container already matches the cart
  1 - The cart differs from the container
  2 - Command error (invalid cart, unknown container, etc.)`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Cart, "cart", "", "YAML cart file, or - for stdin (required)")
	_ = cmd.MarkFlagRequired("cart")

	return cmd
}

func runDiff(cmd *cobra.Command, opts *DiffOptions, args []string) error {
	kind, err := model.ParseContainerKind(args[0])
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid container kind", err)
	}
	tag := args[1]

	raw, err := readCart(cmd.InOrStdin(), opts.Cart)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read cart", err)
	}

	e, err := openEnv(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := cmd.Context()

	cart := ledger.NormalizeCart(raw)
	if err := ledger.ValidateCart(ctx, e.backend, cart); err != nil {
		var verr *ledger.ValidationError
		if errors.As(err, &verr) {
			return WrapExitError(ExitCommandError, "invalid cart", err)
		}
		return WrapExitError(ExitCommandError, "failed to validate cart", err)
	}

	head, err := e.backend.ContainerHead(ctx, kind, tag)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load container", err)
	}
	if head == nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("%s %s not found", kind, tag))
	}
	current, err := e.backend.FindRecords(ctx, head.Ref().Filter())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load parts", err)
	}

	added, removed, err := ledger.Diff(cart, current)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid cart", err)
	}
	res := DiffResult{Kind: kind, Tag: tag, Added: orEmpty(added), Removed: orEmpty(removed)}

	err = formatter(cmd, opts.RootOptions).Print(res, func(w io.Writer) {
		if len(added) == 0 && len(removed) == 0 {
			fmt.Fprintf(w, "%s %s matches the cart.\n", kind, tag)
			return
		}
		for _, item := range added {
			fmt.Fprintf(w, "+ %s\n", itemString(item))
		}
		for _, item := range removed {
			fmt.Fprintf(w, "- %s\n", itemString(item))
		}
	})
	if err != nil {
		return err
	}
	if len(added) > 0 || len(removed) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%s %s differs from the cart", kind, tag))
	}
	return nil
}

func orEmpty(items []model.CartItem) []model.CartItem {
	if items == nil {
		return []model.CartItem{}
	}
	return items
}

func itemString(item model.CartItem) string {
	if item.IsSerialized() {
		return item.NXID + " " + item.Serial
	}
	return fmt.Sprintf("%s x%d", item.NXID, item.Quantity)
}
