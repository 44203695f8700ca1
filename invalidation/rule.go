package invalidation

import (
	"context"
	"errors"
	"fmt"
)

// RuleType selects how a rule invalidates.
type RuleType int

const (
	// RuleAll invalidates every key tracked for the table.
	RuleAll RuleType = iota
	// RulePattern invalidates keys matching the rule's glob pattern.
	RulePattern
	// RuleRelated invalidates the table and its related tables recursively.
	RuleRelated
)

// String returns the string representation of the rule type.
func (r RuleType) String() string {
	switch r {
	case RuleAll:
		return "all"
	case RulePattern:
		return "pattern"
	case RuleRelated:
		return "related"
	default:
		return "unknown"
	}
}

// ErrUnknownRuleType is returned for a rule with an unrecognized type.
var ErrUnknownRuleType = errors.New("invalidation: unknown rule type")

// Rule describes how to invalidate when a table changes. Rules are
// attached to operations at configuration time and consumed at the
// invalidation call sites; the engine does not store them.
type Rule struct {
	// TableName is the table that changed.
	TableName string

	// Type selects the invalidation strategy.
	Type RuleType

	// Pattern is the glob pattern for RulePattern rules.
	Pattern string

	// RelatedTables are the first-hop related tables for RuleRelated rules.
	RelatedTables []string

	// MaxDepth bounds the related-table walk; 0 uses the configured default.
	MaxDepth int
}

// Apply executes the rule against the tracker.
func (t *Tracker) Apply(ctx context.Context, rule Rule) (Result, error) {
	switch rule.Type {
	case RuleAll:
		return t.Invalidate(ctx, rule.TableName)
	case RulePattern:
		return Result{}, t.InvalidateByPattern(ctx, rule.Pattern)
	case RuleRelated:
		return t.InvalidateWithRelated(ctx, rule.TableName, rule.RelatedTables, rule.MaxDepth)
	default:
		return Result{}, fmt.Errorf("%w: %d", ErrUnknownRuleType, rule.Type)
	}
}
