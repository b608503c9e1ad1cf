package ledger

import (
	"fmt"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

func invalid(field, format string, args ...any) error {
	return &models.ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// unknown turns a missing group or member into a validation failure, since
// the caller supplied the reference.
func unknown(field, id string, err error) error {
	return &models.ValidationError{Field: field, Reason: fmt.Sprintf("unknown %s %q", field, id), Err: err}
}
