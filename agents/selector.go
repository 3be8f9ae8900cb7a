package agents

import "strings"

// FallbackSource is the generic source appended to every selection so a query
// always has at least one candidate.
const FallbackSource = "endoflife"

// Route associates a keyword set with a source. Routes are evaluated in table
// order, which fixes the tie-break order used by the Dispatcher.
type Route struct {
	Keywords []string
	SourceID string
}

// DefaultRoutes is the built-in routing table.
func DefaultRoutes() []Route {
	return []Route{
		{Keywords: []string{"microsoft", "windows", "office"}, SourceID: "microsoft"},
		{Keywords: []string{"ubuntu", "canonical"}, SourceID: "ubuntu"},
		{Keywords: []string{"red hat", "rhel", "centos", "fedora"}, SourceID: "redhat"},
		{Keywords: []string{"nodejs", "node"}, SourceID: "nodejs"},
		{Keywords: []string{"python"}, SourceID: "python"},
		{Keywords: []string{"postgresql", "postgres"}, SourceID: "postgresql"},
	}
}

// Selector maps a normalized name to an ordered subset of sources.
type Selector struct {
	routes   []Route
	fallback string
}

// NewSelector builds a selector over the given routes. Nil routes means the
// built-in table.
func NewSelector(routes []Route) *Selector {
	if routes == nil {
		routes = DefaultRoutes()
	}
	return &Selector{routes: routes, fallback: FallbackSource}
}

// Select returns the ordered source list for a normalized name. A source is
// included iff any of its keywords is a case-insensitive substring of the
// name; the fallback source is always appended last.
func (s *Selector) Select(name string) []string {
	lower := strings.ToLower(name)
	out := make([]string, 0, len(s.routes)+1)
	for _, r := range s.routes {
		for _, kw := range r.Keywords {
			if strings.Contains(lower, kw) {
				out = append(out, r.SourceID)
				break
			}
		}
	}
	return append(out, s.fallback)
}
