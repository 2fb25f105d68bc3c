package engineconfig

import "strings"

// EllipsisToken is the "everything else" marker preset lists may contain.
const EllipsisToken = "..."

// notPrefix marks an exclusion entry inside a preset or annotation list,
// e.g. "not <sentence>".
const notPrefix = "not "

// PresetLibrary maps a preset identifier (e.g. "SWE_DEFAULT.saldo") to the
// literal annotation references (or nested preset identifiers) it expands
// to.
type PresetLibrary map[string][]string

// ApplyPresets replaces every preset identifier occurring in list with its
// expansion from lib, recursively, and applies "not <ref>" exclusions found
// anywhere in the (possibly nested) expansion. The ellipsis token is passed
// through unexpanded for the caller to resolve once the full annotation
// universe is known (see ExpandEllipsis).
func ApplyPresets(list []string, lib PresetLibrary) []string {
	expanded := expandRecursive(list, lib, map[string]bool{})
	return applyExclusions(expanded)
}

func expandRecursive(list []string, lib PresetLibrary, seen map[string]bool) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		if item == EllipsisToken {
			out = append(out, item)
			continue
		}
		excluded := strings.HasPrefix(item, notPrefix)
		key := item
		if excluded {
			key = strings.TrimPrefix(item, notPrefix)
		}
		members, isPreset := lib[key]
		if !isPreset {
			out = append(out, item)
			continue
		}
		if seen[key] {
			// Cyclic preset reference: treat as already fully expanded to
			// avoid infinite recursion.
			continue
		}
		seen[key] = true
		nested := expandRecursive(members, lib, seen)
		delete(seen, key)
		if excluded {
			for _, m := range nested {
				out = append(out, notPrefix+m)
			}
			continue
		}
		out = append(out, nested...)
	}
	return out
}

func applyExclusions(list []string) []string {
	excluded := map[string]bool{}
	for _, item := range list {
		if strings.HasPrefix(item, notPrefix) {
			excluded[strings.TrimPrefix(item, notPrefix)] = true
		}
	}
	if len(excluded) == 0 {
		return list
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if strings.HasPrefix(item, notPrefix) {
			continue
		}
		if !excluded[item] {
			out = append(out, item)
		}
	}
	return out
}

// ExpandEllipsis replaces a lone EllipsisToken entry in requested with every
// member of universe not already present in requested. It is a no-op if
// requested contains no ellipsis token.
func ExpandEllipsis(requested, universe []string) []string {
	idx := -1
	for i, r := range requested {
		if r == EllipsisToken {
			idx = i
			break
		}
	}
	if idx == -1 {
		return requested
	}
	present := make(map[string]bool, len(requested))
	for _, r := range requested {
		present[r] = true
	}
	rest := make([]string, 0, len(universe))
	for _, u := range universe {
		if !present[u] {
			rest = append(rest, u)
		}
	}
	out := make([]string, 0, len(requested)-1+len(rest))
	out = append(out, requested[:idx]...)
	out = append(out, rest...)
	out = append(out, requested[idx+1:]...)
	return out
}
