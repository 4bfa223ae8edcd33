package optimizer

import (
	"fmt"
	"sort"
	"strings"
)

// PrefetchKey returns the cache key a prefetched relation is stored under.
// Aliases of the same relation with equal arguments share a key and are
// fetched once; differing arguments get distinct keys. Resolvers compute
// the same key from their own field arguments to find the prefetched rows.
// A connection page carries a total count and window bounds a plain list
// does not, so the two never share a key.
func PrefetchKey(relation string, args map[string]any, connection bool) string {
	key := relation
	if connection {
		key += "#connection"
	}
	if len(args) == 0 {
		return key
	}
	return key + "|" + stableArgsKey(args)
}

func stableArgsKey(args map[string]any) string {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + fmt.Sprintf("%v", args[name])
	}
	return strings.Join(parts, ",")
}

// attachPrefetch merges a prefetch into store, reporting a degradation when
// it conflicts with a sibling under the same key.
func (w *walker) attachPrefetch(store *HintStore, key string, spec PrefetchSpec, path string) {
	conflict := "prefetch:" + key
	_, before := store.conflicts[conflict]
	store.AddPrefetch(key, spec)
	if _, after := store.conflicts[conflict]; after && !before {
		w.report.add(path, ReasonConflict, fmt.Sprintf("prefetch %s: kept the first base queryset", key))
	}
}

// attachAnnotation merges an annotation, reporting a conflicting name.
func (w *walker) attachAnnotation(store *HintStore, name string, a Annotation, path string) {
	conflict := "annotation:" + name
	_, before := store.conflicts[conflict]
	store.AddAnnotation(name, a)
	if _, after := store.conflicts[conflict]; after && !before {
		w.report.add(path, ReasonConflict, fmt.Sprintf("annotation %s: kept the first expression", name))
	}
}
