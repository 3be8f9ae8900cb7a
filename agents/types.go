// Package agents routes normalized queries to lifecycle knowledge sources and
// reconciles their answers into a single confidence-ranked response.
package agents

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for source outcomes. Both are recovered locally by the
// Dispatcher; they never propagate past a resolution.
var (
	// ErrNoAnswer means a source (or every source) had no data for the query.
	ErrNoAnswer = errors.New("agents: no answer")
)

// Response is one source's answer for a product. Only the winning answer is
// ever persisted; the rest live in the dispatcher history buffer.
type Response struct {
	AgentName     string     `json:"agent_name"`
	Cycle         string     `json:"cycle"`
	EOLDate       *time.Time `json:"eol_date,omitempty"`
	LatestVersion string     `json:"latest_version"`
	IsLTS         bool       `json:"is_lts"`
	Confidence    int        `json:"confidence_level"` // 0-100, self-reported
	FetchedAt     time.Time  `json:"fetched_at"`
}

// Agent is the contract a knowledge-source adapter fulfills. Query returns
// ErrNoAnswer when the source has no data; any other error (including a
// context deadline) is treated by the Dispatcher as "no answer" for that
// source only.
type Agent interface {
	Name() string
	Query(ctx context.Context, name, version string) (*Response, error)
}
