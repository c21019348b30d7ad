package memory

import (
	"maps"
	"slices"
)

func cloneEntry(entry *MemoryEntry) *MemoryEntry {
	if entry == nil {
		return nil
	}
	c := *entry
	c.Vector = slices.Clone(entry.Vector)
	c.Metadata = cloneMetadata(entry.Metadata)
	return &c
}

func cloneShortTerm(entry *ShortTermEntry) ShortTermEntry {
	c := *entry
	c.Metadata = cloneMetadata(entry.Metadata)
	return c
}

// cloneMetadata keeps nil as nil.
func cloneMetadata(m map[string]string) map[string]string {
	return maps.Clone(m)
}
