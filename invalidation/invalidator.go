package invalidation

import "context"

// Invalidator is the invalidation surface callers program against. Tracker
// implements it locally; Broadcaster implements it with distributed fan-out,
// so enabling distributed mode is a construction-time substitution rather
// than a branch at every call site.
type Invalidator interface {
	// Invalidate removes every cache key tracked for the table.
	Invalidate(ctx context.Context, tableName string) (Result, error)

	// InvalidateByPattern removes every cache key matching the glob pattern.
	InvalidateByPattern(ctx context.Context, pattern string) error

	// InvalidateBatch invalidates several tables as one operation.
	InvalidateBatch(ctx context.Context, tableNames []string) (Result, error)
}

// Ensure both implementations satisfy Invalidator
var (
	_ Invalidator = (*Tracker)(nil)
	_ Invalidator = (*Broadcaster)(nil)
)
