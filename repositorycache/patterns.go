package repositorycache

import (
	"context"
)

type patternsContextKey struct{}

// WithInvalidationPatterns attaches extra cache patterns to ctx. A write made with the
// returned context also removes every key containing one of them, which lets a
// repository write drop cached query results that join its table.
func WithInvalidationPatterns(ctx context.Context, patterns ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(patterns) == 0 {
		return ctx
	}

	combined := dedupe(append(invalidationPatterns(ctx), patterns...))
	if len(combined) == 0 {
		return ctx
	}
	return context.WithValue(ctx, patternsContextKey{}, combined)
}

func invalidationPatterns(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if patterns, ok := ctx.Value(patternsContextKey{}).([]string); ok {
		return append([]string(nil), patterns...)
	}
	return nil
}

// dedupe drops empty and repeated entries, keeping first-seen order.
func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
