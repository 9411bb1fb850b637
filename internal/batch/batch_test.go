package batch

import (
	"testing"

	"github.com/pryv-io/core/internal/apierrors"
	"github.com/pryv-io/core/internal/method"
	"github.com/pryv-io/core/internal/reqctx"
)

func TestRun_IsolatesPerItemFailures(t *testing.T) {
	t.Parallel()

	registry := method.NewRegistry()
	registry.Register("ok.echo", func(ctx *reqctx.Context, params map[string]any, result *method.Result) error {
		result.Set("echo", params["value"])
		return nil
	})
	registry.Register("always.fails", func(ctx *reqctx.Context, params map[string]any, result *method.Result) error {
		return apierrors.New(apierrors.InvalidOperation, "nope")
	})

	items := []Item{
		{Method: "ok.echo", Params: map[string]any{"value": "first"}},
		{Method: "always.fails", Params: map[string]any{}},
		{Method: "ok.echo", Params: map[string]any{"value": "third"}},
	}

	results := Run(&reqctx.Context{}, registry, items)
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}

	if results[0].Error != nil {
		t.Errorf("results[0].Error = %v, want nil", results[0].Error)
	}
	if got := results[0].Resources["echo"]; got != "first" {
		t.Errorf("results[0] echo = %v, want first", got)
	}

	if results[1].Error == nil || results[1].Error.ID != apierrors.InvalidOperation {
		t.Errorf("results[1].Error = %v, want invalid-operation", results[1].Error)
	}

	// The failure in item 1 must not stop item 2 from running.
	if results[2].Error != nil {
		t.Errorf("results[2].Error = %v, want nil", results[2].Error)
	}
	if got := results[2].Resources["echo"]; got != "third" {
		t.Errorf("results[2] echo = %v, want third", got)
	}
}

func TestRun_UnknownMethod(t *testing.T) {
	t.Parallel()

	registry := method.NewRegistry()
	results := Run(&reqctx.Context{}, registry, []Item{{Method: "no.such.method"}})

	if len(results) != 1 || results[0].Error == nil {
		t.Fatalf("expected one error result, got %+v", results)
	}
	if results[0].Error.ID != apierrors.UnknownResource {
		t.Errorf("Error.ID = %q, want unknown-resource", results[0].Error.ID)
	}
}

func TestRun_Empty(t *testing.T) {
	t.Parallel()
	registry := method.NewRegistry()
	results := Run(&reqctx.Context{}, registry, nil)
	if len(results) != 0 {
		t.Errorf("len(results) = %d, want 0", len(results))
	}
}
