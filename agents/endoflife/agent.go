package endoflife

import (
	"context"
	"strings"
	"time"

	"github.com/lifeline-sh/lifeline/agents"
)

// SlugRule maps a product-name keyword to an endoflife.date slug. Rules are
// evaluated in order; more specific keywords must come first ("windows
// server" before "windows").
type SlugRule struct {
	Keyword string
	Slug    string
}

// Agent answers lifecycle queries from endoflife.date. A vendor agent knows
// the slugs of its products and reports high confidence; the fallback agent
// guesses the slug from the name and reports lower confidence.
type Agent struct {
	name       string
	client     *Client
	rules      []SlugRule
	confidence int
}

// NewAgent creates a vendor-scoped agent. Empty rules make it a fallback that
// derives the slug from the normalized name.
func NewAgent(name string, client *Client, rules []SlugRule, confidence int) *Agent {
	return &Agent{
		name:       name,
		client:     client,
		rules:      rules,
		confidence: confidence,
	}
}

func (a *Agent) Name() string { return a.name }

// Query resolves a normalized (name, version) pair to one lifecycle answer.
// A vendor agent whose rules don't cover the product has no answer; it never
// guesses.
func (a *Agent) Query(ctx context.Context, name, version string) (*agents.Response, error) {
	slug := a.slugFor(name)
	if slug == "" {
		return nil, agents.ErrNoAnswer
	}

	cycles, err := a.client.Product(ctx, slug)
	if err != nil {
		return nil, err
	}

	cycle, ok := matchCycle(cycles, version)
	if !ok {
		return nil, agents.ErrNoAnswer
	}

	return &agents.Response{
		AgentName:     a.name,
		Cycle:         cycle.Cycle,
		EOLDate:       cycle.EOLDate(),
		LatestVersion: cycle.Latest,
		IsLTS:         cycle.IsLTS(),
		Confidence:    a.confidence,
		FetchedAt:     time.Now(),
	}, nil
}

func (a *Agent) slugFor(name string) string {
	if len(a.rules) == 0 {
		return strings.ReplaceAll(strings.TrimSpace(name), " ", "-")
	}
	for _, r := range a.rules {
		if strings.Contains(name, r.Keyword) {
			return r.Slug
		}
	}
	return ""
}

// matchCycle picks the cycle for a version, or the newest cycle when no
// version was asked for. "3.11.2" matches cycle "3.11"; "22.04" matches
// "22.04".
func matchCycle(cycles []Cycle, version string) (Cycle, bool) {
	if version == "" {
		return cycles[0], true
	}
	for _, c := range cycles {
		if c.Cycle == version || strings.HasPrefix(version, c.Cycle+".") {
			return c, true
		}
	}
	return Cycle{}, false
}

// Default confidence levels: vendor agents are authoritative for their
// products, the fallback is a best-effort guess.
const (
	VendorConfidence   = 90
	FallbackConfidence = 70
)

// DefaultAgents builds the built-in source registry keyed by source ID,
// matching the selector's default routing table.
func DefaultAgents(client *Client) map[string]agents.Agent {
	return map[string]agents.Agent{
		"microsoft": NewAgent("microsoft", client, []SlugRule{
			{Keyword: "windows server", Slug: "windows-server"},
			{Keyword: "windows", Slug: "windows"},
			{Keyword: "office", Slug: "office"},
		}, VendorConfidence),
		"ubuntu": NewAgent("ubuntu", client, []SlugRule{
			{Keyword: "ubuntu", Slug: "ubuntu"},
		}, VendorConfidence),
		"redhat": NewAgent("redhat", client, []SlugRule{
			{Keyword: "red hat enterprise linux", Slug: "rhel"},
			{Keyword: "rhel", Slug: "rhel"},
			{Keyword: "centos", Slug: "centos"},
			{Keyword: "fedora", Slug: "fedora"},
		}, VendorConfidence),
		"nodejs": NewAgent("nodejs", client, []SlugRule{
			{Keyword: "node", Slug: "nodejs"},
		}, VendorConfidence),
		"python": NewAgent("python", client, []SlugRule{
			{Keyword: "python", Slug: "python"},
		}, VendorConfidence),
		"postgresql": NewAgent("postgresql", client, []SlugRule{
			{Keyword: "postgres", Slug: "postgresql"},
		}, VendorConfidence),
		agents.FallbackSource: NewAgent(agents.FallbackSource, client, nil, FallbackConfidence),
	}
}
