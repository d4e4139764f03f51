package model

import "time"

// Event is the reconstructed state of a container at one change instant.
type Event struct {
	Date        time.Time   `json:"date"`
	By          string      `json:"by"`
	InfoUpdated bool        `json:"info_updated"`
	Container   *Container  `json:"container,omitempty"`
	Existing    []PartGroup `json:"existing"`
	Added       []PartGroup `json:"added"`
	Removed     []PartGroup `json:"removed"`

	// Pallets only.
	ExistingAssets []ContainerRef `json:"existing_assets,omitempty"`
	AddedAssets    []ContainerRef `json:"added_assets,omitempty"`
	RemovedAssets  []ContainerRef `json:"removed_assets,omitempty"`
	ExistingBoxes  []ContainerRef `json:"existing_boxes,omitempty"`
	AddedBoxes     []ContainerRef `json:"added_boxes,omitempty"`
	RemovedBoxes   []ContainerRef `json:"removed_boxes,omitempty"`
}

// HistoryPage is one page of a container's events, newest first.
type HistoryPage struct {
	Total  int     `json:"total"`
	Pages  int     `json:"pages"`
	Events []Event `json:"events"`
}
