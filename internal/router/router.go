// Package router maps events to pipeline queue names with an ordered,
// first-match rule list.
package router

import (
	"errors"

	"github.com/pocsync/pocsync/internal/matcher"
)

// ErrNoRoute is returned when no rule matches an event.
var ErrNoRoute = errors.New("No matching rule found")

// Rule pairs a target queue with the pattern an event must satisfy.
// An empty pattern matches every event, so the final rule usually
// serves as the default route.
type Rule struct {
	Queue   string
	Pattern map[string]any
}

// Router consults its rules in order and returns the first match.
type Router struct {
	rules []Rule
}

// New creates a router from an ordered rule list.
func New(rules []Rule) *Router {
	return &Router{rules: rules}
}

// DefaultRules returns the stock routing table: per-tenant queues for
// the known webhook paths with a catch-all default.
func DefaultRules() []Rule {
	return []Rule{
		{Queue: "lazada_pipeline_queue", Pattern: map[string]any{"path": "/api/webhook/lazada"}},
		{Queue: "shopee_pipeline_queue", Pattern: map[string]any{"path": "/api/webhook/shopee"}},
		{Queue: "default_pipeline_queue"},
	}
}

// Route returns the queue name for the first rule whose pattern
// matches the event.
func (r *Router) Route(ev map[string]any) (string, error) {
	for _, rule := range r.rules {
		if matcher.Matches(ev, rule.Pattern) {
			return rule.Queue, nil
		}
	}
	return "", ErrNoRoute
}

// Queues returns the distinct queue names referenced by the rules, in
// rule order. Consumers use this to know which queues to drain.
func (r *Router) Queues() []string {
	seen := make(map[string]bool, len(r.rules))
	var queues []string
	for _, rule := range r.rules {
		if seen[rule.Queue] {
			continue
		}
		seen[rule.Queue] = true
		queues = append(queues, rule.Queue)
	}
	return queues
}
