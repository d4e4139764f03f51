package model

import "fmt"

// LocationKind discriminates the Location variant.
type LocationKind int

const (
	LocationRoom LocationKind = iota + 1
	LocationContainer
	LocationOwner
	LocationDeleted
)

// ContainerKind names a version-chained container collection.
type ContainerKind string

const (
	KindAsset  ContainerKind = "asset"
	KindPallet ContainerKind = "pallet"
	KindBox    ContainerKind = "box"
)

// ContainerKinds lists every container kind.
var ContainerKinds = []ContainerKind{KindAsset, KindPallet, KindBox}

// ParseContainerKind accepts singular or plural kind names.
func ParseContainerKind(s string) (ContainerKind, error) {
	switch s {
	case "asset", "assets":
		return KindAsset, nil
	case "pallet", "pallets":
		return KindPallet, nil
	case "box", "boxes":
		return KindBox, nil
	}
	return "", fmt.Errorf("unknown container kind %q", s)
}

// Persisted location strings for non-room placements.
const (
	LocationNameAsset   = "Asset"
	LocationNamePallet  = "Pallet"
	LocationNameBox     = "Box"
	LocationNameOwner   = "Tech Inventory"
	LocationNameDeleted = "deleted"
)

// IsReservedLocationName reports whether name is stored for a non-room
// placement and so cannot name a room.
func IsReservedLocationName(name string) bool {
	switch name {
	case LocationNameAsset, LocationNamePallet, LocationNameBox, LocationNameOwner, LocationNameDeleted:
		return true
	}
	return false
}

// Location is where a part record sits: a room (or kiosk) in a building,
// a container, a user's inventory, or nowhere.
type Location struct {
	Kind      LocationKind
	Building  int
	Name      string
	Container ContainerKind
	Tag       string
	Owner     string
}

// Room returns a room or kiosk location.
func Room(building int, name string) Location {
	return Location{Kind: LocationRoom, Building: building, Name: name}
}

// InContainer returns the location inside a container.
func InContainer(kind ContainerKind, tag string) Location {
	return Location{Kind: LocationContainer, Container: kind, Tag: tag}
}

// OwnedBy returns a user's inventory.
func OwnedBy(userID string) Location {
	return Location{Kind: LocationOwner, Owner: userID}
}

// Deleted returns the location of parts removed from inventory.
func Deleted() Location {
	return Location{Kind: LocationDeleted}
}

// Validate checks the variant carries the fields its kind needs.
func (l Location) Validate() error {
	switch l.Kind {
	case LocationRoom:
		if l.Name == "" {
			return fmt.Errorf("room location requires a name")
		}
		if l.Building < 1 {
			return fmt.Errorf("room %q requires a building", l.Name)
		}
		if IsReservedLocationName(l.Name) {
			return fmt.Errorf("room name %q is reserved", l.Name)
		}
	case LocationContainer:
		if _, err := ParseContainerKind(string(l.Container)); err != nil {
			return err
		}
		if l.Tag == "" {
			return fmt.Errorf("%s location requires a tag", l.Container)
		}
	case LocationOwner:
		if l.Owner == "" {
			return fmt.Errorf("owner location requires a user")
		}
	case LocationDeleted:
	default:
		return fmt.Errorf("unknown location kind %d", l.Kind)
	}
	return nil
}

// Key identifies the location for locking and logging.
func (l Location) Key() string {
	switch l.Kind {
	case LocationRoom:
		return fmt.Sprintf("room:%d:%s", l.Building, l.Name)
	case LocationContainer:
		return fmt.Sprintf("%s:%s", l.Container, l.Tag)
	case LocationOwner:
		return "owner:" + l.Owner
	case LocationDeleted:
		return LocationNameDeleted
	}
	panic(fmt.Sprintf("unknown location kind %d", l.Kind))
}

func (l Location) String() string {
	return l.Key()
}

// Filter returns the membership filter selecting open records at this location.
func (l Location) Filter() PartFilter {
	f := PartFilter{OpenOnly: true}
	l.scope(&f)
	return f
}

// HistoryFilter selects every record, open or closed, that was ever at this location.
func (l Location) HistoryFilter() PartFilter {
	var f PartFilter
	l.scope(&f)
	return f
}

func (l Location) scope(f *PartFilter) {
	switch l.Kind {
	case LocationRoom:
		f.Location = l.Name
		f.Building = l.Building
	case LocationContainer:
		switch l.Container {
		case KindAsset:
			f.AssetTag = l.Tag
		case KindPallet:
			f.PalletTag = l.Tag
		case KindBox:
			f.BoxTag = l.Tag
		default:
			panic(fmt.Sprintf("unknown container kind %q", l.Container))
		}
	case LocationOwner:
		f.Owner = l.Owner
	case LocationDeleted:
		f.Location = LocationNameDeleted
	default:
		panic(fmt.Sprintf("unknown location kind %d", l.Kind))
	}
}

// Apply writes the placement fields of the location onto rec, clearing the others.
// Building is only overwritten when the location carries one.
func (l Location) Apply(rec *PartRecord) {
	rec.AssetTag, rec.PalletTag, rec.BoxTag, rec.Owner = "", "", "", ""
	if l.Building != 0 {
		rec.Building = l.Building
	}

	switch l.Kind {
	case LocationRoom:
		rec.Location = l.Name
	case LocationContainer:
		switch l.Container {
		case KindAsset:
			rec.Location = LocationNameAsset
			rec.AssetTag = l.Tag
		case KindPallet:
			rec.Location = LocationNamePallet
			rec.PalletTag = l.Tag
		case KindBox:
			rec.Location = LocationNameBox
			rec.BoxTag = l.Tag
		default:
			panic(fmt.Sprintf("unknown container kind %q", l.Container))
		}
	case LocationOwner:
		rec.Location = LocationNameOwner
		rec.Owner = l.Owner
	case LocationDeleted:
		rec.Location = LocationNameDeleted
	default:
		panic(fmt.Sprintf("unknown location kind %d", l.Kind))
	}
}

// LocationOf recovers the location variant of a stored record.
func LocationOf(rec PartRecord) (Location, error) {
	switch rec.Location {
	case LocationNameAsset:
		return Location{Kind: LocationContainer, Container: KindAsset, Tag: rec.AssetTag, Building: rec.Building}, nil
	case LocationNamePallet:
		return Location{Kind: LocationContainer, Container: KindPallet, Tag: rec.PalletTag, Building: rec.Building}, nil
	case LocationNameBox:
		return Location{Kind: LocationContainer, Container: KindBox, Tag: rec.BoxTag, Building: rec.Building}, nil
	case LocationNameOwner:
		return Location{Kind: LocationOwner, Owner: rec.Owner, Building: rec.Building}, nil
	case LocationNameDeleted:
		return Location{Kind: LocationDeleted, Building: rec.Building}, nil
	case "":
		return Location{}, fmt.Errorf("record %s has no location", rec.ID)
	}
	return Room(rec.Building, rec.Location), nil
}
