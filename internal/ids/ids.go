package ids

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// New returns a lexicographically sortable identifier used for request and
// panel run IDs. It is safe for concurrent use.
func New() string {
	return ulid.Make().String()
}

// Time returns the creation time encoded in id.
func Time(id string) (time.Time, bool) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}
