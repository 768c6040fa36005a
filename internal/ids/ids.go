// Package ids mints user identifiers.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a lexicographically sortable identifier. IDs minted within the
// same millisecond stay ordered.
func New() string {
	return At(time.Now())
}

// At mints an identifier stamped with t.
func At(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Valid reports whether s parses as an identifier minted here.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
