package method

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/pryv-io/core/internal/apierrors"
	"github.com/pryv-io/core/internal/reqctx"
)

func newTestContext() *reqctx.Context {
	return &reqctx.Context{Ctx: context.Background(), UserID: "u1"}
}

func TestRegistryCallRunsStepsInOrder(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	var order []string
	reg.Register("test.method",
		func(_ *reqctx.Context, params map[string]any, _ *Result) error {
			order = append(order, "first")
			params["seen"] = true
			return nil
		},
		func(_ *reqctx.Context, params map[string]any, result *Result) error {
			order = append(order, "second")
			if params["seen"] != true {
				t.Error("second step did not observe first step's mutation")
			}
			result.Set("ok", true)
			return nil
		},
	)

	result, apiErr := reg.Call(newTestContext(), "test.method", map[string]any{})
	if apiErr != nil {
		t.Fatalf("Call() error: %v", apiErr)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("step order = %v, want [first second]", order)
	}
	if result.Resources["ok"] != true {
		t.Error("result missing expected resource")
	}
}

func TestRegistryCallShortCircuitsOnError(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	ran := false
	reg.Register("test.method",
		func(_ *reqctx.Context, _ map[string]any, _ *Result) error {
			return apierrors.New(apierrors.Forbidden, "nope")
		},
		func(_ *reqctx.Context, _ map[string]any, _ *Result) error {
			ran = true
			return nil
		},
	)

	_, apiErr := reg.Call(newTestContext(), "test.method", map[string]any{})
	if apiErr == nil || apiErr.ID != apierrors.Forbidden {
		t.Fatalf("apiErr = %v, want forbidden", apiErr)
	}
	if ran {
		t.Error("step after the failing one should not have run")
	}
}

func TestRegistryCallWrapsUnexpectedError(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("test.method", func(_ *reqctx.Context, _ map[string]any, _ *Result) error {
		return errors.New("boom")
	})

	_, apiErr := reg.Call(newTestContext(), "test.method", map[string]any{})
	if apiErr == nil || apiErr.ID != apierrors.UnexpectedError {
		t.Fatalf("apiErr = %v, want unexpected-error", apiErr)
	}
}

func TestRegistryCallUnknownMethod(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	_, apiErr := reg.Call(newTestContext(), "no.such.method", map[string]any{})
	if apiErr == nil || apiErr.ID != apierrors.UnknownResource {
		t.Fatalf("apiErr = %v, want unknown-resource", apiErr)
	}
}

func TestRegistryRegisterDuplicatePanics(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("dup", func(_ *reqctx.Context, _ map[string]any, _ *Result) error { return nil })

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	reg.Register("dup", func(_ *reqctx.Context, _ map[string]any, _ *Result) error { return nil })
}

func TestResultWriteToHTTPResponseStreamsLargeSlices(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/test", func(c fiber.Ctx) error {
		result := NewResult()
		items := make([]int, streamChunkThreshold+1)
		for i := range items {
			items[i] = i
		}
		result.Set("events", items)
		return result.WriteToHTTPResponse(c, 1700000000)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var decoded struct {
		Events []int `json:"events"`
	}
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v (body=%s)", err, body)
	}
	if len(decoded.Events) != streamChunkThreshold+1 {
		t.Errorf("got %d events, want %d", len(decoded.Events), streamChunkThreshold+1)
	}
}

func TestResultWriteToHTTPResponseSmallSliceNotStreamed(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/test", func(c fiber.Ctx) error {
		result := NewResult()
		result.Set("events", []int{1, 2, 3})
		return result.WriteToHTTPResponse(c, 1700000000)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var decoded struct {
		Events []int `json:"events"`
		Meta   struct {
			APIVersion string `json:"apiVersion"`
		} `json:"meta"`
	}
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v (body=%s)", err, body)
	}
	if len(decoded.Events) != 3 {
		t.Errorf("events = %v, want 3 items", decoded.Events)
	}
	if decoded.Meta.APIVersion == "" {
		t.Error("missing meta.apiVersion")
	}
}
