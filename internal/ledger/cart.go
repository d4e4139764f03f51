package ledger

import (
	"context"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/erazemk/nxledger/internal/model"
)

// CanonicalNXID returns the catalog form of a part number.
func CanonicalNXID(s string) string {
	return strings.ToUpper(norm.NFC.String(strings.TrimSpace(s)))
}

func canonicalSerial(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// NormalizeCart turns a client-submitted cart into canonical form: at most
// one quantity entry per NXID and unique (NXID, serial) pairs, in order of
// first appearance. Entries without an NXID, or with neither a positive
// quantity nor a serial, are dropped. A serial takes precedence over a quantity.
func NormalizeCart(raw []model.CartItem) []model.CartItem {
	out := make([]model.CartItem, 0, len(raw))
	quantityAt := make(map[string]int)
	seenSerial := make(map[[2]string]bool)

	for _, item := range raw {
		nxid := CanonicalNXID(item.NXID)
		serial := canonicalSerial(item.Serial)
		if nxid == "" {
			continue
		}

		if serial != "" {
			key := [2]string{nxid, serial}
			if seenSerial[key] {
				continue
			}
			seenSerial[key] = true
			out = append(out, model.CartItem{NXID: nxid, Serial: serial})
			continue
		}

		if item.Quantity <= 0 {
			continue
		}
		if i, ok := quantityAt[nxid]; ok {
			out[i].Quantity += item.Quantity
			continue
		}
		quantityAt[nxid] = len(out)
		out = append(out, model.CartItem{NXID: nxid, Quantity: item.Quantity})
	}
	return out
}

// ValidateCart checks every item against the part catalog. It returns a
// *ValidationError for the first offending item.
func ValidateCart(ctx context.Context, catalog Catalog, cart []model.CartItem) error {
	nxids := make([]string, 0, len(cart))
	for _, item := range cart {
		nxids = append(nxids, item.NXID)
	}
	slices.Sort(nxids)
	nxids = slices.Compact(nxids)

	types, err := catalog.PartTypes(ctx, nxids)
	if err != nil {
		return err
	}

	for _, item := range cart {
		if item.NXID == "" {
			return &ValidationError{Item: item, Reason: "missing nxid"}
		}
		pt, ok := types[item.NXID]
		if !ok {
			return &ValidationError{Item: item, Reason: "unknown part"}
		}
		switch {
		case pt.Serialized && item.Serial == "":
			return &ValidationError{Item: item, Reason: "part is serialized, a serial is required"}
		case !pt.Serialized && item.Serial != "":
			return &ValidationError{Item: item, Reason: "part is not serialized"}
		case !pt.Serialized && item.Quantity <= 0:
			return &ValidationError{Item: item, Reason: "quantity must be positive"}
		}
	}
	return nil
}

// CartValid reports whether ValidateCart accepts the cart. Catalog failures
// count as invalid.
func CartValid(ctx context.Context, catalog Catalog, cart []model.CartItem) bool {
	return ValidateCart(ctx, catalog, cart) == nil
}
