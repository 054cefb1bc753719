package repository

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type scanner interface {
	Scan(dest ...any) error
}

func newID() string {
	return uuid.NewString()
}

// placeholders renders "$start, $start+1, ..." for n arguments.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
