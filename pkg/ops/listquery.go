package ops

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fleetmesh/fleetmesh/pkg/apierror"
)

// MaxListLimit bounds how many items a single collection response may
// carry.
const MaxListLimit = 1000

// ListParams are the shared shaping parameters of collection-returning
// operations. The zero value means "everything, unsorted".
type ListParams struct {
	Offset int
	Limit  int
	Sort   string // field name, prefixed with + or - for direction
	Search string // substring match over string fields
}

// ListResult is the itemized collection shape collection operations
// return.
type ListResult struct {
	Items      []map[string]any `json:"items"`
	TotalItems int              `json:"total_items"`
}

// ParseListParams extracts shaping parameters from a sparse argument
// map, rejecting malformed values with request-parameter taxonomy
// errors.
func ParseListParams(args map[string]any) (ListParams, error) {
	p := ListParams{}

	if v, ok := args["offset"]; ok {
		n, err := asInt(v)
		if err != nil || n < 0 {
			return p, apierror.NewUser(apierror.CodeInvalidOffset).WithMessage(fmt.Sprint(v))
		}
		p.Offset = n
	}
	if v, ok := args["limit"]; ok {
		n, err := asInt(v)
		if err != nil {
			return p, apierror.NewUser(apierror.CodeInvalidLimit).WithMessage(fmt.Sprint(v))
		}
		switch {
		case n == 0:
			return p, apierror.NewUser(1406)
		case n < 0:
			return p, apierror.NewUser(apierror.CodeInvalidLimit).WithMessage(fmt.Sprint(v))
		case n > MaxListLimit:
			return p, apierror.NewUser(1405).WithMessage(fmt.Sprintf("got %d, maximum is %d", n, MaxListLimit))
		}
		p.Limit = n
	}
	if v, ok := args["sort"]; ok {
		s, _ := v.(string)
		if s == "" {
			return p, apierror.NewUser(1404)
		}
		p.Sort = s
	}
	if v, ok := args["search"]; ok {
		p.Search, _ = v.(string)
	}
	return p, nil
}

// Shape applies search, sort, offset and limit to items, in that order,
// and returns the itemized collection. Sort field lookups that match no
// item field are rejected with a sort-field error.
func Shape(items []map[string]any, p ListParams) (*ListResult, error) {
	if p.Search != "" {
		filtered := items[:0:0]
		for _, it := range items {
			if matchesSearch(it, p.Search) {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}

	if p.Sort != "" {
		field := p.Sort
		descending := false
		switch {
		case strings.HasPrefix(field, "-"):
			descending = true
			field = field[1:]
		case strings.HasPrefix(field, "+"):
			field = field[1:]
		}
		if field == "" {
			return nil, apierror.NewUser(1404)
		}
		if len(items) > 0 {
			if _, ok := items[0][field]; !ok {
				return nil, apierror.NewUser(apierror.CodeInvalidSortField).WithMessage(field)
			}
		}
		sort.SliceStable(items, func(i, j int) bool {
			less := fmt.Sprint(items[i][field]) < fmt.Sprint(items[j][field])
			if descending {
				return !less
			}
			return less
		})
	}

	total := len(items)
	if p.Offset > len(items) {
		items = nil
	} else {
		items = items[p.Offset:]
	}
	if p.Limit > 0 && p.Limit < len(items) {
		items = items[:p.Limit]
	}

	// Nil slices render as JSON null; collections always render as
	// arrays.
	if items == nil {
		items = []map[string]any{}
	}
	return &ListResult{Items: items, TotalItems: total}, nil
}

func matchesSearch(item map[string]any, needle string) bool {
	needle = strings.ToLower(needle)
	for _, v := range item {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("not an integer: %T", v)
	}
}
