// Package ids generates type-prefixed identifiers for Wflow entities.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// Entity prefixes. The prefix makes IDs self-describing in logs and
// foreign-key columns.
const (
	Workflow  = "wf"
	Schedule  = "sch"
	Execution = "exe"
	Job       = "job"
)

// New returns a fresh identifier of the form "<prefix>_<uuid>".
func New(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// HasPrefix reports whether id carries the given entity prefix.
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix+"_")
}
