package ledger

import (
	"errors"
	"fmt"

	"github.com/erazemk/nxledger/internal/model"
)

var (
	ErrInvalidCart   = errors.New("invalid cart")
	ErrMalformedCart = errors.New("cart entry has neither quantity nor serial")
	ErrNotFound      = errors.New("not found")
	ErrNotEmpty      = errors.New("container is not empty")
	ErrInvalid       = errors.New("invalid request")
)

// ValidationError describes the first cart item that failed validation.
type ValidationError struct {
	Item   model.CartItem
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Item.Serial != "" {
		return fmt.Sprintf("%s (serial %s): %s", e.Item.NXID, e.Item.Serial, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Item.NXID, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidCart
}
