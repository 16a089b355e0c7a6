// Package nanpa resolves domestic numbers to their numbering-plan
// classification (state, LATA, OCN). The registry itself is an external data
// set; this package defines the lookup contract plus an in-memory
// implementation backed by an NPA-NXX prefix table.
package nanpa

import (
	"regexp"
	"strings"
)

// NumberInfo is the numbering-plan record for one NPA-NXX block.
type NumberInfo struct {
	State string
	LATA  string
	OCN   string
}

// Registry looks up numbering-plan data for a domestic number. The second
// return is false when the number has no known mapping; absence is not an
// error.
type Registry interface {
	Lookup(number string) (NumberInfo, bool)
}

var digitsOnly = regexp.MustCompile(`[^0-9]+`)

// PrefixKey reduces a domestic dial string to its six-digit NPA-NXX key,
// stripping formatting and the NANP country code. Returns "" when the number
// cannot yield a full prefix.
func PrefixKey(number string) string {
	n := digitsOnly.ReplaceAllString(number, "")

	if len(n) == 11 && strings.HasPrefix(n, "1") {
		n = n[1:]
	}

	if len(n) < 10 {
		return ""
	}

	return n[:6]
}

// StaticRegistry is a Registry over a fixed prefix table, used for tests and
// for deployments that load the NANPA data set into memory at startup.
type StaticRegistry struct {
	prefixes map[string]NumberInfo
}

// NewStaticRegistry builds a registry from an NPA-NXX keyed table.
func NewStaticRegistry(prefixes map[string]NumberInfo) *StaticRegistry {
	return &StaticRegistry{prefixes: prefixes}
}

// Lookup implements Registry.
func (r *StaticRegistry) Lookup(number string) (NumberInfo, bool) {
	key := PrefixKey(number)
	if key == "" {
		return NumberInfo{}, false
	}

	info, ok := r.prefixes[key]
	return info, ok
}
