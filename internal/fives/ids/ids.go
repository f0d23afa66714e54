// Package ids issues record identifiers: UUIDs for rows confirmed by the
// remote store and prefixed ULIDs for rows created while offline.
package ids

import (
	mathrand "math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// LocalPrefix marks identifiers minted on this device and not yet confirmed remotely.
const LocalPrefix = "local_"

var (
	localRef = regexp.MustCompile(`"(` + LocalPrefix + `[0-9A-HJKMNP-TV-Z]{26})"`)

	likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a remote-style identifier.
func New() string {
	return uuid.New().String()
}

// NewLocal returns a temporary identifier. Values sort by creation time and
// never collide with UUIDs.
func NewLocal() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return LocalPrefix + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// IsLocal reports whether id was produced by NewLocal.
func IsLocal(id string) bool {
	return strings.HasPrefix(id, LocalPrefix)
}

// LocalRefs returns the temporary identifiers quoted anywhere in a JSON
// payload, skipping except.
func LocalRefs(payload []byte, except string) []string {
	var out []string
	for _, m := range localRef.FindAllSubmatch(payload, -1) {
		if id := string(m[1]); id != except {
			out = append(out, id)
		}
	}
	return out
}

// EscapeLike escapes s for use inside a LIKE pattern declared with ESCAPE '\'.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}
