package events

// FilterMode selects how a Filter treats event types.
type FilterMode int

const (
	FilterAllowAll FilterMode = iota
	FilterInclude
	FilterExclude
)

// Filter decides which event types reach the sinks.
type Filter struct {
	mode  FilterMode
	types map[string]struct{}
}

// AllowAll passes every event.
func AllowAll() Filter {
	return Filter{mode: FilterAllowAll}
}

// Include passes only the listed event types.
func Include(types ...string) Filter {
	return Filter{mode: FilterInclude, types: toSet(types)}
}

// Exclude passes everything except the listed event types.
func Exclude(types ...string) Filter {
	return Filter{mode: FilterExclude, types: toSet(types)}
}

// Allows reports whether the event type passes the filter.
func (f Filter) Allows(eventType string) bool {
	switch f.mode {
	case FilterInclude:
		_, ok := f.types[eventType]
		return ok
	case FilterExclude:
		_, ok := f.types[eventType]
		return !ok
	default:
		return true
	}
}

func toSet(types []string) map[string]struct{} {
	m := make(map[string]struct{}, len(types))
	for _, t := range types {
		m[t] = struct{}{}
	}
	return m
}
