package memory

import (
	"context"
	"sort"
	"strings"
)

// FindSimilarMemories groups entries whose pairwise cosine similarity
// reaches threshold, closing transitively: if A~B and B~C all three share
// a cluster even when sim(A,C) is below threshold. Entries without a
// vector never link. Singletons are omitted. Clusters are ordered by their
// earliest member and members keep input order.
func FindSimilarMemories(entries []*MemoryEntry, threshold float64) [][]*MemoryEntry {
	n := len(entries)
	if n < 2 {
		return nil
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}

	for i := 0; i < n; i++ {
		if len(entries[i].Vector) == 0 {
			continue
		}
		for j := i + 1; j < n; j++ {
			if len(entries[j].Vector) != len(entries[i].Vector) {
				continue
			}
			if cosineSimilarity(entries[i].Vector, entries[j].Vector) >= threshold {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]*MemoryEntry)
	var roots []int
	for i := 0; i < n; i++ {
		r := find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], entries[i])
	}

	var clusters [][]*MemoryEntry
	for _, r := range roots {
		if len(groups[r]) > 1 {
			clusters = append(clusters, groups[r])
		}
	}
	return clusters
}

// ConsolidationResult summarizes a consolidation pass.
type ConsolidationResult struct {
	Scope    string `json:"scope"`
	Clusters int    `json:"clusters"`
	Removed  int    `json:"removed"`
	// Aliases maps each removed entry to the representative it merged into.
	Aliases map[string]string `json:"aliases,omitempty"`
}

// Consolidate merges every cluster in store into one representative: the
// most important member, newest among equals. Entries only cluster with
// entries of the same category. The representative inherits the summed
// access count and records the merged IDs. It stops between clusters when
// ctx is done.
func Consolidate(ctx context.Context, store *VectorStore, threshold float64) (ConsolidationResult, error) {
	result := ConsolidationResult{Scope: store.Scope().String(), Aliases: make(map[string]string)}

	var clusters [][]*MemoryEntry
	for _, group := range byCategory(store.All()) {
		clusters = append(clusters, FindSimilarMemories(group, threshold)...)
	}

	for _, cluster := range clusters {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		members := append([]*MemoryEntry(nil), cluster...)
		sort.SliceStable(members, func(i, j int) bool {
			if members[i].Importance != members[j].Importance {
				return members[i].Importance > members[j].Importance
			}
			return members[i].Timestamp.After(members[j].Timestamp)
		})
		rep := members[0]
		merged := make([]string, 0, len(members)-1)
		for _, m := range members[1:] {
			rep.AccessCount += m.AccessCount
			merged = append(merged, m.ID)
		}
		if rep.Metadata == nil {
			rep.Metadata = make(map[string]string, 1)
		}
		rep.Metadata[MetaConsolidatedFrom] = joinIDs(rep.Metadata[MetaConsolidatedFrom], merged)

		if err := store.Update(ctx, rep); err != nil {
			return result, err
		}
		for _, id := range merged {
			if err := store.Delete(ctx, id); err != nil {
				return result, err
			}
			result.Aliases[id] = rep.ID
			result.Removed++
		}
		result.Clusters++
	}
	return result, nil
}

func joinIDs(existing string, ids []string) string {
	if existing == "" {
		return strings.Join(ids, ",")
	}
	return existing + "," + strings.Join(ids, ",")
}

// byCategory partitions entries by category, keeping input order within
// each partition and ordering partitions by first appearance.
func byCategory(entries []*MemoryEntry) [][]*MemoryEntry {
	index := make(map[Category]int)
	var groups [][]*MemoryEntry
	for _, e := range entries {
		i, ok := index[e.Category]
		if !ok {
			i = len(groups)
			index[e.Category] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], e)
	}
	return groups
}
