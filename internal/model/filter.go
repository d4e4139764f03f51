package model

import "time"

// SerialMode restricts a part query to serialized or unserialized records.
type SerialMode int

const (
	AnySerial SerialMode = iota
	SerializedOnly
	UnserializedOnly
)

// PartFilter selects part records. Zero-valued fields do not constrain.
// Results are ordered by date_created, then id.
type PartFilter struct {
	IDs        []string
	ExcludeIDs []string
	NXID       string
	NXIDs      []string
	Serial     string
	SerialMode SerialMode
	Building   int
	Location   string
	AssetTag   string
	PalletTag  string
	BoxTag     string
	Owner      string
	Prev       string
	OpenOnly   bool

	// CreatedAt and ReplacedAt match the boundary exactly.
	CreatedAt  *time.Time
	ReplacedAt *time.Time
	// ExistingAt matches records created before t and not replaced by t.
	ExistingAt *time.Time

	Limit int
}

// ContainerFilter selects container versions of one kind.
type ContainerFilter struct {
	Kind ContainerKind
	Tag  string
	// PalletTag matches versions on the pallet or moving onto or off it.
	PalletTag string
	Building  int
	OpenOnly  bool
	Limit     int
}
