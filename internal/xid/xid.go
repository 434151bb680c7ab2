package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed random identifier such as "sale-3f1c...".
func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

// Valid reports whether raw looks like an identifier produced by New.
func Valid(raw string) bool {
	raw = strings.TrimSpace(raw)
	return raw != "" && len(raw) <= 128 && !strings.ContainsAny(raw, " \t\r\n/")
}
