package catalog

import (
	"unicode/utf8"

	"magnetcatalog/pkg/types"
)

// Dedupe keeps one entry per magnet URI. On collision the entry with the
// longer cleanTitle survives and ties keep the first seen. Output follows
// the order in which each magnet first appeared. The second return value
// counts discarded entries.
func Dedupe(entries []types.CatalogEntry) ([]types.CatalogEntry, int) {
	out := make([]types.CatalogEntry, 0, len(entries))
	index := make(map[string]int, len(entries))
	dropped := 0
	for _, e := range entries {
		pos, ok := index[e.Magnet]
		if !ok {
			index[e.Magnet] = len(out)
			out = append(out, e)
			continue
		}
		dropped++
		if utf8.RuneCountInString(e.CleanTitle) > utf8.RuneCountInString(out[pos].CleanTitle) {
			out[pos] = e
		}
	}
	return out, dropped
}
