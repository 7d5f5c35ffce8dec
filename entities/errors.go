package entities

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrStoreEntityNotFound = errors.New("store resource not found")

// MalformedLineError reports a recipient line without an address/amount
// separator. Line numbers are 1-based.
type MalformedLineError struct {
	Line int
	Text string
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("line %d malformed (missing comma): %q", e.Line, e.Text)
}

// InvalidAmountError reports a recipient amount that is not a positive
// integer.
type InvalidAmountError struct {
	Line   int
	Amount string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("line %d amount must be a positive integer, got %q", e.Line, e.Amount)
}
