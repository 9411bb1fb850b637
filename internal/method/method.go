// Package method implements the method registry and pipeline (spec §4.2): methods are registered as an ordered
// chain of steps; dispatch runs them sequentially, short-circuiting on the first error. Built in the same
// explicit, hand-wired idiom fiber itself uses for sequential middleware chaining, generalized into a named,
// reusable pipeline abstraction per design notes §9 ("Step = func(*Context, *Params, *Result) error").
package method

import (
	"fmt"
	"reflect"

	"github.com/gofiber/fiber/v3"

	"github.com/pryv-io/core/internal/apierrors"
	"github.com/pryv-io/core/internal/httputil"
	"github.com/pryv-io/core/internal/reqctx"
)

// streamChunkThreshold is the slice length above which a single-resource response (an events list, a bulk
// deletion list) is written item-by-item instead of marshaled whole, so the HTTP write for the 2,000-item case the
// design notes name (§9) actually occurs across several chunks rather than one buffered write.
const streamChunkThreshold = 200

// Step is one stage of a method's pipeline: params validation, a common-fn (trusted-app check, tracking-properties
// init), or a method-specific action. A step mutates ctx/params/result in place and returns an error to abort the
// chain; later steps observe every mutation made by earlier ones (§4.2 "ordering guarantee").
type Step func(ctx *reqctx.Context, params map[string]any, result *Result) error

// Result accumulates a method call's output: the named resource(s) to serialize, plus the HTTP status to use on
// success.
type Result struct {
	Status    int
	Resources map[string]any
}

// NewResult builds an empty Result defaulting to HTTP 200.
func NewResult() *Result {
	return &Result{Status: fiber.StatusOK, Resources: map[string]any{}}
}

// Set stores a named resource to appear in the response envelope under that name.
func (r *Result) Set(name string, value any) {
	r.Resources[name] = value
}

// WriteToHTTPResponse serializes the Result through internal/httputil's envelope
// (internal/httputil.Success/SuccessStatus).
func (r *Result) WriteToHTTPResponse(c fiber.Ctx, now int64) error {
	if len(r.Resources) == 1 {
		for name, value := range r.Resources {
			if rv := reflect.ValueOf(value); rv.Kind() == reflect.Slice && rv.Len() > streamChunkThreshold {
				length := rv.Len()
				return httputil.StreamArray(c, r.Status, now, name, length, func(i int) any {
					return rv.Index(i).Interface()
				})
			}
			return httputil.SuccessStatus(c, r.Status, now, name, value)
		}
	}
	return c.Status(r.Status).JSON(httputil.Envelope(now, "", r.Resources))
}

// method pairs an id with its ordered steps.
type method struct {
	id    string
	steps []Step
}

// Registry holds every registered method, keyed by id. Duplicate registration panics at boot, a fatal-at-boot
// first-run-failure convention (§4.2: "Duplicate registration is fatal at boot").
type Registry struct {
	methods map[string]method
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{methods: map[string]method{}}
}

// Register adds a method under methodID. Panics if methodID is already registered.
func (reg *Registry) Register(methodID string, steps ...Step) {
	if _, exists := reg.methods[methodID]; exists {
		panic(fmt.Sprintf("method %q already registered", methodID))
	}
	reg.methods[methodID] = method{id: methodID, steps: steps}
}

// Call runs methodID's steps in order against ctx and params, short-circuiting on the first step that returns an
// error. Unknown methodIDs return apierrors.UnknownResource("method", methodID). Any error that is not already an
// *apierrors.APIError is wrapped as unexpected-error (§4.2: "unknown exceptions are wrapped as unexpectedError").
func (reg *Registry) Call(ctx *reqctx.Context, methodID string, params map[string]any) (*Result, *apierrors.APIError) {
	m, ok := reg.methods[methodID]
	if !ok {
		return nil, apierrors.UnknownResource("method", methodID)
	}

	result := NewResult()
	for _, step := range m.steps {
		if err := step(ctx, params, result); err != nil {
			return nil, apierrors.Wrap(err)
		}
	}
	return result, nil
}

// Has reports whether methodID is registered, used by internal/batch to validate a batch item before running it.
func (reg *Registry) Has(methodID string) bool {
	_, ok := reg.methods[methodID]
	return ok
}
