package querycache

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Key identifies a cached query, e.g. Key{"datafiles", "NINA-01"}.
// Keys are compared structurally through their canonical JSON form.
type Key []any

// String returns the canonical encoding used for equality and storage.
func (k Key) String() string {
	parts := make([]string, len(k))
	for i, p := range k {
		parts[i] = partString(p)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// HasPrefix reports whether prefix matches the leading parts of k.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i, p := range prefix {
		if partString(p) != partString(k[i]) {
			return false
		}
	}
	return true
}

// Equal reports structural equality.
func (k Key) Equal(other Key) bool {
	return len(k) == len(other) && k.HasPrefix(other)
}

func partString(p any) string {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprintf("%q", fmt.Sprint(p))
	}
	return string(data)
}
