package registry

import "sort"

// CompletionCache is the persisted shape `sparv autocomplete` writes under
// the data directory, so shell completion can suggest concrete processor
// IDs and config keys instead of only the static verb list, grounded on
// original_source/sparv/core/completion.py's registry-driven cache build.
type CompletionCache struct {
	Processors []string `json:"processors"`
	ConfigKeys []string `json:"config_keys"`
}

// BuildCompletionCache walks the registry's compiled descriptors and config
// schema into a sorted, de-duplicated CompletionCache.
func BuildCompletionCache(r *Registry) CompletionCache {
	cache := CompletionCache{}
	for _, d := range r.All() {
		cache.Processors = append(cache.Processors, d.ID)
	}
	for key := range r.ConfigKeys() {
		cache.ConfigKeys = append(cache.ConfigKeys, key)
	}
	sort.Strings(cache.Processors)
	sort.Strings(cache.ConfigKeys)
	return cache
}
