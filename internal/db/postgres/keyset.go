package postgres

import (
	"Marginalia/internal/core/pagination"
	"fmt"
)

// keysetFilter returns the WHERE fragment selecting rows strictly after the
// cursor in (created_ms DESC, id DESC) order, with placeholders starting at
// argIndex. A nil cursor yields no filter.
func keysetFilter(after *pagination.Cursor, argIndex int) (string, []interface{}) {
	if after == nil {
		return "", nil
	}
	filter := fmt.Sprintf(
		`AND (r.created_ms < $%d OR (r.created_ms = $%d AND r.id < $%d))`,
		argIndex, argIndex, argIndex+1,
	)
	return filter, []interface{}{after.Timestamp, after.ID}
}
