package ctdf

import (
	"fmt"
	"strconv"
	"strings"
)

const parentPrefix = "Parent"
const sloidPrefix = "ch:1:sloid:"

// RootStopID strips platform suffixes and the Parent prefix so that every
// variant of a station id collapses to one value. SLOIDs are mapped to the
// matching UIC number.
//
//	8503000:0:7            -> 8503000
//	Parent8503000          -> 8503000
//	ch:1:sloid:3000:4:7    -> 8503000
func RootStopID(id string) string {
	id = strings.TrimSpace(id)

	if rest, ok := cutPrefixFold(id, sloidPrefix); ok {
		number, _, _ := strings.Cut(rest, ":")
		if n, err := strconv.Atoi(number); err == nil && n > 0 && n < 100000 {
			return fmt.Sprintf("85%05d", n)
		}
		return strings.ToLower(id)
	}

	id = strings.TrimPrefix(id, parentPrefix)
	root, _, _ := strings.Cut(id, ":")

	return root
}

// PlatformOf returns the platform part of a platform-level id such as
// 8503000:0:7, or an empty string.
func PlatformOf(id string) string {
	if _, ok := cutPrefixFold(id, sloidPrefix); ok {
		return ""
	}
	fields := strings.Split(id, ":")
	if len(fields) < 3 {
		return ""
	}
	return fields[len(fields)-1]
}

// StopIDVariants lists the ids a stop may be referenced by, most specific
// first.
func StopIDVariants(id string) []string {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}

	variants := []string{id}
	root := RootStopID(id)
	if root != "" && root != id {
		variants = append(variants, root)
	}
	return variants
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}

// StopTokens is a set of normalised stop references used to compare ids
// coming from different sources.
type StopTokens map[string]struct{}

func (t StopTokens) Add(id string) {
	for _, variant := range StopIDVariants(id) {
		t[strings.ToLower(variant)] = struct{}{}
	}
}

func (t StopTokens) Matches(id string) bool {
	if id == "" {
		return false
	}
	for _, variant := range StopIDVariants(id) {
		if _, ok := t[strings.ToLower(variant)]; ok {
			return true
		}
	}
	return false
}

func SameStation(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return RootStopID(a) == RootStopID(b)
}
