package queue

import "sort"

// ResolveDuplicates keeps the entry with the greatest id for every logical
// key. Survivors and discarded entries are both returned in id order, so the
// result does not depend on the order of the input.
func ResolveDuplicates(entries []Entry) (survivors, discarded []Entry) {
	newest := make(map[LogicalKey]int, len(entries))
	for i := range entries {
		key := entries[i].Key()
		if j, ok := newest[key]; !ok || entries[i].ID > entries[j].ID {
			newest[key] = i
		}
	}

	for i := range entries {
		if newest[entries[i].Key()] == i {
			survivors = append(survivors, entries[i])
		} else {
			discarded = append(discarded, entries[i])
		}
	}

	sortByID(survivors)
	sortByID(discarded)
	return survivors, discarded
}

// IndexOfDuplicate returns the position of the first entry sharing the
// candidate's logical key, or -1.
func IndexOfDuplicate(entries []Entry, candidate Entry) int {
	key := candidate.Key()
	for i := range entries {
		if entries[i].Key() == key {
			return i
		}
	}
	return -1
}

func sortByID(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID < entries[j].ID
	})
}

func entryIDs(entries []Entry) []int64 {
	ids := make([]int64, len(entries))
	for i := range entries {
		ids[i] = entries[i].ID
	}
	return ids
}

// idsByClaimant groups the ids of claimed entries by their owner
func idsByClaimant(entries []Entry) map[string][]int64 {
	groups := make(map[string][]int64)
	for i := range entries {
		if entries[i].ClaimedBy == nil {
			continue
		}
		owner := *entries[i].ClaimedBy
		groups[owner] = append(groups[owner], entries[i].ID)
	}
	return groups
}
