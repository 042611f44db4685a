//go:build !sqlite

package storage

import (
	"errors"
	"fmt"
)

// errSQLiteDisabled is returned for the sqlite kind when the binary was built
// without the sqlite tag.
var errSQLiteDisabled = errors.New("store kind sqlite needs a build with -tags sqlite")

func newSQLiteStore(path string) (Store, error) {
	return nil, fmt.Errorf("open sqlite store %q: %w", path, errSQLiteDisabled)
}
