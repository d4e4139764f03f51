package ledger

import (
	"cmp"
	"slices"

	"github.com/erazemk/nxledger/internal/model"
)

type serialKey struct {
	nxid, serial string
}

// Diff compares a canonical desired cart against the open records of a
// container. Serialized parts are compared by (nxid, serial), unserialized
// parts by count per nxid. A desired entry with neither a quantity nor a
// serial fails the whole diff with ErrMalformedCart and empty results.
//
// Both results are sorted by nxid, then serial.
func Diff(desired []model.CartItem, current []model.PartRecord) (added, removed []model.CartItem, err error) {
	wantCount := make(map[string]int)
	wantSerial := make(map[serialKey]bool)
	for _, item := range desired {
		switch {
		case item.IsSerialized():
			wantSerial[serialKey{item.NXID, item.Serial}] = true
		case item.Quantity > 0:
			wantCount[item.NXID] += item.Quantity
		default:
			return nil, nil, ErrMalformedCart
		}
	}

	haveCount := make(map[string]int)
	haveSerial := make(map[serialKey]bool)
	for _, rec := range current {
		if rec.Serial != "" {
			haveSerial[serialKey{rec.NXID, rec.Serial}] = true
		} else {
			haveCount[rec.NXID]++
		}
	}

	for k := range haveSerial {
		if !wantSerial[k] {
			removed = append(removed, model.CartItem{NXID: k.nxid, Serial: k.serial})
		}
	}
	for k := range wantSerial {
		if !haveSerial[k] {
			added = append(added, model.CartItem{NXID: k.nxid, Serial: k.serial})
		}
	}

	for nxid, have := range haveCount {
		switch d := wantCount[nxid] - have; {
		case d < 0:
			removed = append(removed, model.CartItem{NXID: nxid, Quantity: -d})
		case d > 0:
			added = append(added, model.CartItem{NXID: nxid, Quantity: d})
		}
	}
	for nxid, want := range wantCount {
		if _, ok := haveCount[nxid]; !ok {
			added = append(added, model.CartItem{NXID: nxid, Quantity: want})
		}
	}

	sortItems(added)
	sortItems(removed)
	return added, removed, nil
}

func sortItems(items []model.CartItem) {
	slices.SortFunc(items, func(a, b model.CartItem) int {
		return cmp.Or(cmp.Compare(a.NXID, b.NXID), cmp.Compare(a.Serial, b.Serial))
	})
}
