package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/huangsam/orgpulse/schema"
)

// ErrRollupNotFound is returned when no row matches a lookup key.
var ErrRollupNotFound = errors.New("rollup not found")

// ParseRollupKey converts textual key parts to the column types of the scope's key.
// Multi-column keys may be given as one comma-separated string.
func ParseRollupKey(scope schema.Scope, parts []string) ([]any, error) {
	proto := schema.NewRollup(scope)
	if proto == nil {
		return nil, fmt.Errorf("unknown rollup scope: %s", scope)
	}
	if len(parts) == 1 && len(proto.KeyColumns()) > 1 {
		parts = strings.Split(parts[0], ",")
	}
	cols := proto.KeyColumns()
	if len(parts) != len(cols) {
		return nil, fmt.Errorf("%s key needs %s", scope, strings.Join(cols, ", "))
	}
	key := make([]any, len(parts))
	for i, kind := range proto.KeyValues() {
		raw := strings.TrimSpace(parts[i])
		switch kind.(type) {
		case int64:
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid %s %q: %w", cols[i], raw, err)
			}
			key[i] = n
		default:
			key[i] = raw
		}
	}
	return key, nil
}

// Rollup performs the point lookup that consuming services rely on.
func (p *Pipeline) Rollup(ctx context.Context, scope schema.Scope, parts ...string) (schema.RollupRecord, error) {
	key, err := ParseRollupKey(scope, parts)
	if err != nil {
		return nil, err
	}
	rec, found, err := p.store.GetRollup(ctx, scope, key...)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s %s", ErrRollupNotFound, scope, strings.Join(parts, ","))
	}
	return rec, nil
}
