// Package reqctx implements per-request resolution of the calling access (spec §4.1): token lookup across the
// recognized carriers (Authorization header, "auth" query parameter, a signed SSO cookie, or a files-read token),
// building the permission evaluator for that access, and exposing the capability-query helpers pipeline steps call
// against it. Resolution happens once per request via a resolver middleware that stashes the result on the fiber
// context, the same "resolve once, stash on the request, read back downstream" idiom generalized into the
// several-source token contract the stream-scoped permission model needs.
package reqctx

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/pryv-io/core/internal/access"
	"github.com/pryv-io/core/internal/auth"
	"github.com/pryv-io/core/internal/legacyprefix"
	"github.com/pryv-io/core/internal/permission"
	"github.com/pryv-io/core/internal/stream"
)

// Sentinel errors for token resolution.
var (
	ErrNoToken      = errors.New("no access token supplied")
	ErrInvalidToken = errors.New("access token is invalid, expired, or deleted")
)

// Context carries everything a method step needs about the current call: the resolved user, access, its evaluator
// over the user's current stream tree, and request-scoped tracking properties (§4.1's "trackingProperties").
type Context struct {
	Ctx       context.Context
	UserID    string
	Access    *access.Access
	Evaluator *permission.Evaluator
	Tree      *stream.Tree
	AppID     string // the calling app id, from the Authorization header's X-Pryv-App-Id or HTTP Origin, trusted-app gated
	Origin    string
	CallerIP  string
	Now       time.Time

	// DisableBackwardCompatPrefix mirrors the "disable-backward-compatibility-prefix" request header (§4.10): when
	// true, response serialization must leave canonical system-stream ids untranslated instead of denormalizing them
	// back to their legacy dotted form.
	DisableBackwardCompatPrefix bool
}

// CanGetEventsOnStream, CanCreateEventsOnStream, CanUpdateEventsOnStream, CanManageStream are the capability-query
// methods named in the request-context design (§4.1), thin forwarders onto the evaluator.
func (c *Context) CanGetEventsOnStream(streamID string) bool    { return c.Evaluator.CanRead(streamID) }
func (c *Context) CanCreateEventsOnStream(streamID string) bool { return c.Evaluator.CanCreate(streamID) }
func (c *Context) CanUpdateEventsOnStream(streamID string) bool { return c.Evaluator.CanUpdate(streamID) }
func (c *Context) CanManageStream(streamID string) bool         { return c.Evaluator.CanManage(streamID) }

// InitTrackingProperties stamps Now if unset; called as the first common-fn of every method pipeline so later steps
// can rely on it being populated (§4.1). CallerIP and Origin are left as Resolve set them.
func (c *Context) InitTrackingProperties() {
	if c.Now.IsZero() {
		c.Now = time.Now()
	}
}

// AccessLookup resolves an opaque token to its live access, used by Resolver.
type AccessLookup interface {
	GetByToken(ctx context.Context, token string) (*access.Access, error)
}

// StreamLister loads a user's current stream forest, used to build the per-request Tree/Evaluator.
type StreamLister interface {
	List(ctx context.Context, userID, storeID string) ([]stream.Stream, error)
}

// Resolver builds a *Context for an incoming fiber request by trying each token carrier in the order of §4.1: the
// Authorization header, then the "auth" query parameter, then a signed SSO cookie, then (for file reads only) a
// files-read token is handled separately by internal/attachment since it names an event rather than an access.
type Resolver struct {
	accesses    AccessLookup
	streams     StreamLister
	ssoSecret   string
	ssoIssuer   string
}

// NewResolver builds a Resolver over the given access lookup and stream lister.
func NewResolver(accesses AccessLookup, streams StreamLister, ssoSecret, ssoIssuer string) *Resolver {
	return &Resolver{accesses: accesses, streams: streams, ssoSecret: ssoSecret, ssoIssuer: ssoIssuer}
}

// tokenFromRequest extracts the bearer token from a fiber.Ctx trying, in order: the Authorization header (raw value,
// with an optional "Bearer " prefix stripped), the "auth" query parameter, and a signed SSO cookie.
func (r *Resolver) tokenFromRequest(c fiber.Ctx) (string, bool) {
	if h := c.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer "), true
	}
	if q := c.Query("auth"); q != "" {
		return q, true
	}
	if r.ssoSecret != "" {
		if cookie := c.Cookies("pryv-sso"); cookie != "" {
			claims, err := auth.ValidateAccessToken(cookie, r.ssoSecret, r.ssoIssuer)
			if err == nil {
				return claims.Subject, true
			}
		}
	}
	return "", false
}

// Resolve builds a *Context for the incoming request's token. userID is the account namespace the request targets
// (taken from the route, e.g. /{username}/...); the resolved access must belong to that same user.
func (r *Resolver) Resolve(c fiber.Ctx, userID string) (*Context, error) {
	token, ok := r.tokenFromRequest(c)
	if !ok {
		return nil, ErrNoToken
	}
	rc, err := r.ResolveToken(c.Context(), userID, token, c.IP(), c.Get("Origin"))
	if err != nil {
		return nil, err
	}
	rc.DisableBackwardCompatPrefix = strings.EqualFold(c.Get(legacyprefix.DisableHeader), "true")
	return rc, nil
}

// ResolveToken builds a *Context directly from a token string, used by callers that have already extracted the token
// themselves rather than through Resolve's carriers.
func (r *Resolver) ResolveToken(ctx context.Context, userID, token, callerIP, origin string) (*Context, error) {
	a, err := r.accesses.GetByToken(ctx, token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !a.IsLive(time.Now()) {
		return nil, ErrInvalidToken
	}

	streams, err := r.streams.List(ctx, userID, "local")
	if err != nil {
		return nil, err
	}
	tree := stream.BuildTree(streams)
	eval := permission.NewEvaluator(a.Permissions, tree)

	rc := &Context{
		Ctx: ctx, UserID: userID, Access: a, Evaluator: eval, Tree: tree,
		CallerIP: callerIP, Origin: origin, Now: time.Now(),
	}
	return rc, nil
}

// Middleware returns Fiber middleware that resolves the request's access and stores the resulting *Context in
// Locals under contextLocalsKey, for route handlers to retrieve with FromFiber. userIDFromParams extracts the target
// username from the route (e.g. c.Params("username")).
func (r *Resolver) Middleware(userIDFromParams func(fiber.Ctx) string) fiber.Handler {
	return func(c fiber.Ctx) error {
		userID := userIDFromParams(c)
		rc, err := r.Resolve(c, userID)
		if err != nil {
			return err
		}
		c.Locals(contextLocalsKey, rc)
		return c.Next()
	}
}

const contextLocalsKey = "reqctx"

// FromFiber retrieves the *Context a Middleware stashed in Locals, or nil if none was set.
func FromFiber(c fiber.Ctx) *Context {
	rc, _ := c.Locals(contextLocalsKey).(*Context)
	return rc
}
