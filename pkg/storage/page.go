package storage

import (
	"sort"

	"github.com/rhuss/codeexec/pkg/api"
	"github.com/rhuss/codeexec/pkg/transport"
)

// Limit bounds for list operations.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// Matches reports whether res passes the language and status filters of opts.
func Matches(res *api.ExecutionResult, opts transport.ListOptions) bool {
	if opts.Language != "" && res.Language != opts.Language {
		return false
	}
	if opts.Status != "" && res.Status != opts.Status {
		return false
	}
	return true
}

// Paginate sorts matches by creation time (newest first unless opts.Order is
// "asc"), applies the After/Before cursors and the limit, and builds the list
// envelope. Stores that cannot push the query down to their backend use it
// on the filtered set.
func Paginate(matches []*api.ExecutionResult, opts transport.ListOptions) *api.ExecutionList {
	asc := opts.Order == "asc"
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt != matches[j].CreatedAt {
			if asc {
				return matches[i].CreatedAt < matches[j].CreatedAt
			}
			return matches[i].CreatedAt > matches[j].CreatedAt
		}
		if asc {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].ID > matches[j].ID
	})

	if opts.After != "" {
		idx := indexOf(matches, opts.After)
		if idx >= 0 {
			matches = matches[idx+1:]
		} else {
			matches = nil
		}
	} else if opts.Before != "" {
		idx := indexOf(matches, opts.Before)
		if idx > 0 {
			matches = matches[:idx]
		} else {
			matches = nil
		}
	}

	limit := ClampLimit(opts.Limit)
	hasMore := len(matches) > limit
	if hasMore {
		matches = matches[:limit]
	}

	list := &api.ExecutionList{
		Object:  "list",
		Data:    matches,
		HasMore: hasMore,
	}
	if len(matches) > 0 {
		list.FirstID = matches[0].ID
		list.LastID = matches[len(matches)-1].ID
	}
	if list.Data == nil {
		list.Data = []*api.ExecutionResult{}
	}
	return list
}

func indexOf(results []*api.ExecutionResult, id string) int {
	for i, r := range results {
		if r.ID == id {
			return i
		}
	}
	return -1
}
