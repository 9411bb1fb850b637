// Package batch implements the batch call executor (spec §4.7): an ordered list of method calls run sequentially
// under one shared context, with each call's success or failure captured independently rather than aborting the
// whole batch, the same "loop, isolate, collect" shape a per-connection frame-dispatch loop uses to keep one bad
// frame from tearing down the whole connection.
package batch

import (
	"github.com/pryv-io/core/internal/apierrors"
	"github.com/pryv-io/core/internal/method"
	"github.com/pryv-io/core/internal/reqctx"
)

// Item is one call within a batch request: a method id and its parameters, exactly as a caller would submit a single
// top-level API call.
type Item struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// ItemResult is one batch entry's outcome. Exactly one of Resources or Error is populated, matching a single call's
// success/failure envelope (§4.7: "each sub-result — success or error — is captured in-order").
type ItemResult struct {
	Status    int               `json:"-"`
	Resources map[string]any    `json:"-"`
	Error     *apierrors.APIError `json:"-"`
}

// Run executes items sequentially against registry under the shared ctx, in submission order (§5: "Batch executor
// runs its children serially, in submission order"). A failing item does not stop the batch — its error is captured
// and the next item still runs; there are no transactional semantics across calls.
func Run(ctx *reqctx.Context, registry *method.Registry, items []Item) []ItemResult {
	results := make([]ItemResult, len(items))
	for i, item := range items {
		result, apiErr := registry.Call(ctx, item.Method, item.Params)
		if apiErr != nil {
			results[i] = ItemResult{Error: apiErr}
			continue
		}
		results[i] = ItemResult{Status: result.Status, Resources: result.Resources}
	}
	return results
}
