package api

import (
	"fmt"

	"github.com/erazemk/nxledger/internal/auth"
	"github.com/erazemk/nxledger/internal/model"
)

// locationRequest is the wire form of a location.
// Kind is one of room, asset, pallet, box, owner or deleted.
type locationRequest struct {
	Kind     string `json:"kind"`
	Building int    `json:"building,omitempty"`
	Name     string `json:"name,omitempty"`
	Tag      string `json:"tag,omitempty"`
	Owner    string `json:"owner,omitempty"`
}

func (l *locationRequest) location() (model.Location, error) {
	var loc model.Location
	switch l.Kind {
	case "room", "kiosk":
		loc = model.Room(l.Building, l.Name)
	case "owner", "user":
		loc = model.OwnedBy(l.Owner)
		loc.Building = l.Building
	case "deleted":
		loc = model.Deleted()
	default:
		kind, err := model.ParseContainerKind(l.Kind)
		if err != nil {
			return model.Location{}, fmt.Errorf("unknown location kind %q", l.Kind)
		}
		loc = model.InContainer(kind, l.Tag)
	}
	if err := loc.Validate(); err != nil {
		return model.Location{}, err
	}
	return loc, nil
}

// locationOr resolves l, or returns def when l is absent.
func locationOr(l *locationRequest, def model.Location) (model.Location, error) {
	if l == nil {
		return def, nil
	}
	return l.location()
}

// inventoryOf returns the inventory of the authenticated user.
func inventoryOf(claims *auth.Claims) model.Location {
	return model.User{ID: claims.UserID, Building: claims.Building}.Inventory()
}
