package httputil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/pryv-io/core/internal/apierrors"
)

func TestSuccess(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/test", func(c fiber.Ctx) error {
		return Success(c, 1700000000, "stream", map[string]string{"id": "abc"})
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["stream"]; !ok {
		t.Error("missing resource key in envelope")
	}
	if _, ok := decoded["meta"]; !ok {
		t.Error("missing meta key in envelope")
	}
}

func TestStreamArray(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/test", func(c fiber.Ctx) error {
		items := []string{"a", "b", "c"}
		return StreamArray(c, http.StatusOK, 1700000000, "events", len(items), func(i int) any {
			return items[i]
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var decoded struct {
		Events []string        `json:"events"`
		Meta   json.RawMessage `json:"meta"`
	}
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v (body=%s)", err, body)
	}
	if len(decoded.Events) != 3 || decoded.Events[0] != "a" || decoded.Events[2] != "c" {
		t.Errorf("events = %v, want [a b c]", decoded.Events)
	}
	if decoded.Meta == nil {
		t.Error("missing meta key in envelope")
	}
}

func TestFail(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/test", func(c fiber.Ctx) error {
		return Fail(c, apierrors.New(apierrors.Forbidden, "nope"))
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	var decoded ErrorResponse
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Error.ID != apierrors.Forbidden {
		t.Errorf("error id = %q, want %q", decoded.Error.ID, apierrors.Forbidden)
	}
}
