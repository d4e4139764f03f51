package model

import (
	"maps"
	"time"
)

// Container is one version of an asset, pallet or box. Assets and boxes may
// sit on a pallet; PrevPallet/NextPallet and PrevLocation/NextLocation are
// copied from the neighbouring versions when a version is superseded.
type Container struct {
	Version
	Kind         ContainerKind     `json:"kind"`
	Tag          string            `json:"tag"`
	Building     int               `json:"building"`
	Location     string            `json:"location"`
	PalletTag    string            `json:"pallet_tag,omitempty"`
	PrevPallet   string            `json:"prev_pallet,omitempty"`
	NextPallet   string            `json:"next_pallet,omitempty"`
	PrevLocation string            `json:"prev_location,omitempty"`
	NextLocation string            `json:"next_location,omitempty"`
	Notes        string            `json:"notes,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	DateUpdated  time.Time         `json:"date_updated"`
}

// Ref returns the location of parts held by this container.
func (c Container) Ref() Location {
	loc := InContainer(c.Kind, c.Tag)
	loc.Building = c.Building
	return loc
}

// SameAttributes compares the descriptive fields of two versions,
// ignoring identity, chain, audit and denormalized neighbour fields.
func (c Container) SameAttributes(o Container) bool {
	return c.Kind == o.Kind &&
		c.Tag == o.Tag &&
		c.Building == o.Building &&
		c.Location == o.Location &&
		c.PalletTag == o.PalletTag &&
		c.Notes == o.Notes &&
		maps.Equal(c.Attributes, o.Attributes)
}

// ContainerRef points at one container version from a pallet event.
type ContainerRef struct {
	ID  string `json:"_id"`
	Tag string `json:"tag"`
}
