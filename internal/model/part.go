package model

import "time"

// PartRecord is one version of the placement of a quantity of one part.
// Serialized parts carry a serial; unserialized records stand for one unit each.
type PartRecord struct {
	Version
	NXID      string `json:"nxid"`
	Building  int    `json:"building"`
	Location  string `json:"location"`
	AssetTag  string `json:"asset_tag,omitempty"`
	PalletTag string `json:"pallet_tag,omitempty"`
	BoxTag    string `json:"box_tag,omitempty"`
	Owner     string `json:"owner,omitempty"`
	Serial    string `json:"serial,omitempty"`
	NextOwner string `json:"next_owner,omitempty"`
}

// PartType is a catalog entry identified by its NXID.
type PartType struct {
	NXID         string    `json:"nxid"`
	Manufacturer string    `json:"manufacturer"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Serialized   bool      `json:"serialized"`
	ImageKey     string    `json:"image_key,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// CartItem is one line of a desired or computed membership.
// Exactly one of Quantity or Serial is meaningful.
type CartItem struct {
	NXID     string `json:"nxid"`
	Quantity int    `json:"quantity,omitempty"`
	Serial   string `json:"serial,omitempty"`
}

// IsSerialized reports whether the item names a single serialized unit.
func (c CartItem) IsSerialized() bool {
	return c.Serial != ""
}

// PartGroup is an aggregate over part records sharing nxid and serial
// (and next owner, when grouped by it).
type PartGroup struct {
	NXID      string `json:"nxid"`
	Serial    string `json:"serial,omitempty"`
	NextOwner string `json:"next_owner,omitempty"`
	By        string `json:"by,omitempty"`
	Quantity  int    `json:"quantity"`
}
