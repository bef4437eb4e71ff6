package notes

import (
	"fmt"
	"strings"

	"github.com/kuitang/notedly/internal/errs"
)

// MaxContentBytes is the largest note body accepted on create or update.
const MaxContentBytes = 100_000

// CheckContent rejects blank and oversized note bodies.
func CheckContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errs.New(errs.InvalidArgument, "Note content is required")
	}
	if len(content) > MaxContentBytes {
		return errs.New(errs.InvalidArgument,
			fmt.Sprintf("Note content is %d bytes; the limit is %d", len(content), MaxContentBytes))
	}
	return nil
}
