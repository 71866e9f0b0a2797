// Package resolve implements idempotent get-or-create over the publication graph.
package resolve

import (
	"context"
	"fmt"

	"github.com/JakeFAU/conference-crawler/internal/model"
	"github.com/JakeFAU/conference-crawler/internal/store"
)

// Resolve looks up a stored row equal to candidate on the given key columns.
// With no keys, every non-null column of the candidate is compared. A match is
// returned unchanged with created=false; otherwise candidate is returned with
// created=true and the caller is expected to insert it. Resolve never writes.
func Resolve[E model.Entity](
	ctx context.Context,
	lookup store.Lookup[E],
	candidate E,
	keys ...string,
) (E, bool, error) {
	attrs, err := matchAttrs(candidate, keys)
	if err != nil {
		var zero E
		return zero, false, err
	}
	existing, found, err := lookup.FindBy(ctx, attrs)
	if err != nil {
		var zero E
		return zero, false, fmt.Errorf("lookup %s: %w", candidate.Table(), err)
	}
	if found {
		return existing, false, nil
	}
	return candidate, true, nil
}

func matchAttrs(candidate model.Entity, keys []string) ([]model.Attr, error) {
	all := candidate.Attrs()
	if len(keys) == 0 {
		attrs := model.NonNull(all)
		if len(attrs) == 0 {
			return nil, fmt.Errorf("resolve %s: candidate has no non-null attributes", candidate.Table())
		}
		return attrs, nil
	}
	byColumn := make(map[string]model.Attr, len(all))
	for _, a := range all {
		byColumn[a.Column] = a
	}
	attrs := make([]model.Attr, 0, len(keys))
	for _, k := range keys {
		a, ok := byColumn[k]
		if !ok {
			return nil, fmt.Errorf("resolve %s: unknown key column %q", candidate.Table(), k)
		}
		attrs = append(attrs, a)
	}
	return attrs, nil
}
