package model

import (
	"errors"
	"time"
)

// NextDeleted is the next pointer of a version whose chain has been terminated.
const NextDeleted = "deleted"

var (
	// ErrChainConflict is returned when a version was closed by someone else
	// between being read and being superseded.
	ErrChainConflict = errors.New("version already closed")

	// ErrExists is returned when creating a chain whose logical entity already has a head.
	ErrExists = errors.New("already exists")
)

// Version holds the chain fields shared by every versioned record.
type Version struct {
	ID           string     `json:"_id"`
	Prev         *string    `json:"prev"`
	Next         *string    `json:"next"`
	DateCreated  time.Time  `json:"date_created"`
	DateReplaced *time.Time `json:"date_replaced,omitempty"`
	By           string     `json:"by"`
}

// IsHead reports whether this is the open version of its chain.
func (v Version) IsHead() bool {
	return v.Next == nil
}

// IsDeleted reports whether the chain ends at this version.
func (v Version) IsDeleted() bool {
	return v.Next != nil && *v.Next == NextDeleted
}

// ActiveAt reports whether the version was the visible state at t.
// A version is visible from its creation up to, but not including, its replacement.
func (v Version) ActiveAt(t time.Time) bool {
	if v.DateCreated.After(t) {
		return false
	}
	return v.DateReplaced == nil || v.DateReplaced.After(t)
}
