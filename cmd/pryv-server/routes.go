package main

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/pryv-io/core/internal/access"
	"github.com/pryv-io/core/internal/account"
	"github.com/pryv-io/core/internal/apierrors"
	"github.com/pryv-io/core/internal/attachment"
	"github.com/pryv-io/core/internal/batch"
	"github.com/pryv-io/core/internal/event"
	"github.com/pryv-io/core/internal/followedslice"
	"github.com/pryv-io/core/internal/httputil"
	"github.com/pryv-io/core/internal/legacyprefix"
	"github.com/pryv-io/core/internal/method"
	"github.com/pryv-io/core/internal/mfa"
	"github.com/pryv-io/core/internal/notify"
	"github.com/pryv-io/core/internal/profile"
	"github.com/pryv-io/core/internal/reqctx"
	"github.com/pryv-io/core/internal/stream"
	"github.com/pryv-io/core/internal/systemstream"
	"github.com/pryv-io/core/internal/versioning"
	"github.com/pryv-io/core/internal/webhook"
)

// emailStreamID mirrors internal/account's indexed email leaf, used here only to answer the anonymous
// check_email/check_username registration probes without duplicating account.Service's registration logic.
const emailStreamID = systemstream.CustomerPrefix + "email"

func now() int64 { return time.Now().Unix() }

// userIDFromParams resolves the "username" route segment to the account's internal uuid, the id every other
// per-user collection is keyed against. Returning "" on a lookup miss lets reqctx.Resolver's Middleware carry on;
// the subsequent GetByToken/stream listing then fails closed rather than panicking.
func (s *server) userIDFromParams(c fiber.Ctx) string {
	u, err := s.users.GetByUsername(c.Context(), c.Params("username"))
	if err != nil {
		return ""
	}
	return u.ID.String()
}

func (s *server) registerRoutes(app *fiber.App) {
	app.Get("/system/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	s.registerRegistrationRoutes(app)
	s.registerAdminRoutes(app)

	auth := s.resolver.Middleware(s.userIDFromParams)

	g := app.Group("/:username")

	g.Post("/auth/login", s.handleLogin)
	g.Post("/auth/logout", s.handleLogout)
	g.Get("/auth/who-am-i", func(c fiber.Ctx) error {
		return apierrors.New(apierrors.Gone, "who-am-i is deprecated")
	})

	g.Get("/account", auth, s.handleGetAccount)
	g.Put("/account", auth, s.handleUpdateAccount)
	g.Post("/account/change-password", auth, s.handleChangePassword)
	g.Post("/account/request-password-reset", s.handleRequestPasswordReset)
	g.Post("/account/reset-password", s.handleResetPassword)
	g.Post("/account/mfa/enable", auth, s.handleMFAEnable)
	g.Post("/account/mfa/confirm", auth, s.handleMFAConfirm)
	g.Post("/account/mfa/disable", auth, s.handleMFADisable)

	g.Get("/access-info", auth, s.handleAccessInfo)

	g.Get("/accesses", auth, s.handleMethod("accesses.get"))
	g.Post("/accesses", auth, s.handleMethod("accesses.create"))
	g.Post("/accesses/check-app", auth, s.handleMethod("accesses.checkApp"))
	g.Put("/accesses/:id", auth, s.handleMethod("accesses.update"))
	g.Delete("/accesses/:id", auth, s.handleMethod("accesses.delete"))

	g.Get("/streams", auth, s.handleMethod("streams.get"))
	g.Post("/streams", auth, s.handleMethod("streams.create"))
	g.Put("/streams/:id", auth, s.handleMethod("streams.update"))
	g.Delete("/streams/:id", auth, s.handleMethod("streams.delete"))

	g.Get("/events", auth, s.handleMethod("events.get"))
	g.Post("/events", auth, s.handleCreateEvent)
	g.Get("/events/:id", auth, s.handleMethod("events.get"))
	g.Put("/events/:id", auth, s.handleMethod("events.update"))
	g.Delete("/events/:id", auth, s.handleMethod("events.delete"))

	g.Get("/events/:id/:fileId", s.handleAttachmentRead)
	g.Get("/events/:id/:fileId/:fileName", s.handleAttachmentRead)
	g.Delete("/events/:id/:fileId", auth, s.handleAttachmentDelete)

	g.Get("/profile/:scope", auth, s.handleProfileGet)
	g.Put("/profile/:scope", auth, s.handleProfileSet)

	g.Get("/followed-slices", auth, s.handleFollowedSlicesList)
	g.Post("/followed-slices", auth, s.handleFollowedSliceCreate)
	g.Put("/followed-slices/:id", auth, s.handleFollowedSliceUpdate)
	g.Delete("/followed-slices/:id", auth, s.handleFollowedSliceDelete)

	g.Get("/webhooks", auth, s.handleWebhooksList)
	g.Post("/webhooks", auth, s.handleWebhookCreate)
	g.Delete("/webhooks/:id", auth, s.handleWebhookDelete)

	g.Post("/", auth, s.handleBatch)
}

// --- method-registry passthrough ---

// handleMethod dispatches an HTTP verb straight onto the named method pipeline, building the params map from the
// request body (writes) or the JSON-stringified query parameters (reads), per spec §4.2's single call contract.
func (s *server) handleMethod(methodID string) fiber.Handler {
	return func(c fiber.Ctx) error {
		rc := reqctx.FromFiber(c)
		params, err := requestParams(c)
		if err != nil {
			return apierrors.New(apierrors.InvalidParametersFormat, err.Error())
		}
		if id := c.Params("id"); id != "" {
			params["id"] = id
		}
		result, apiErr := s.registry.Call(rc, methodID, params)
		if apiErr != nil {
			return apiErr
		}
		if err := s.notifyForMethod(c, rc, methodID); err != nil {
			return err
		}
		applyBackwardCompatEgress(rc, result)
		return result.WriteToHTTPResponse(c, now())
	}
}

// applyBackwardCompatEgress denormalizes system-stream ids (and splits out the legacy `tags` array) on every
// event/stream/access-bearing resource a method returns, unless the caller sent the DisableHeader (spec §4.10).
// It mutates result.Resources in place; each resource was freshly built for this request, so there is no risk of
// corrupting a shared/cached value.
func applyBackwardCompatEgress(rc *reqctx.Context, result *method.Result) {
	if rc == nil || rc.DisableBackwardCompatPrefix {
		return
	}
	denormalizeResources(result.Resources)
}

// denormalizeResources applies denormalizeEvent/denormalizeStream/denormalizeAccess to every recognized resource
// shape in resources, used both for a single method.Result and for each item of a batch response.
func denormalizeResources(resources map[string]any) {
	for _, value := range resources {
		switch v := value.(type) {
		case *event.Event:
			denormalizeEvent(v)
		case []event.Event:
			for i := range v {
				denormalizeEvent(&v[i])
			}
		case *stream.Stream:
			denormalizeStream(v)
		case []stream.Stream:
			for i := range v {
				denormalizeStream(&v[i])
			}
		case *access.Access:
			denormalizeAccess(v)
		case []access.Access:
			for i := range v {
				denormalizeAccess(&v[i])
			}
		case []versioning.HistoryEntry:
			for i := range v {
				v[i].StreamIDs = legacyprefix.DenormalizeStreamIDs(v[i].StreamIDs)
			}
		}
	}
}

func denormalizeEvent(ev *event.Event) {
	rest, tags := legacyprefix.ExtractTags(ev.StreamIDs)
	ev.StreamIDs = legacyprefix.DenormalizeStreamIDs(rest)
	if len(tags) > 0 {
		ev.Tags = tags
	}
}

func denormalizeStream(s *stream.Stream) {
	s.ID = legacyprefix.DenormalizeStreamID(s.ID)
	if s.ParentID != nil {
		parent := legacyprefix.DenormalizeStreamID(*s.ParentID)
		s.ParentID = &parent
	}
}

func denormalizeAccess(a *access.Access) {
	for i, p := range a.Permissions {
		if p.StreamID != "" {
			a.Permissions[i].StreamID = legacyprefix.DenormalizeStreamID(p.StreamID)
		}
	}
}

// notifyForMethod publishes the change-notification topic a successful mutating call implies (spec §4.9); read-only
// methods are not named here and fall through untouched.
func (s *server) notifyForMethod(c fiber.Ctx, rc *reqctx.Context, methodID string) error {
	var topic notify.Topic
	switch methodID {
	case "streams.create", "streams.update", "streams.delete":
		topic = notify.StreamsChanged
	case "events.create", "events.update", "events.delete":
		topic = notify.EventsChanged
	case "accesses.create", "accesses.delete":
		topic = notify.AccessesChanged
	default:
		return nil
	}
	return s.notifyBus.Publish(c.Context(), rc.UserID, topic)
}

// requestParams builds a method.Step params map from the incoming request: the JSON body for writes, or the query
// string for reads, where each query value is tried as JSON first (covering the JSON-stringified stream-query and
// array parameters spec §4.4 describes) and falls back to the raw string.
func requestParams(c fiber.Ctx) (map[string]any, error) {
	if len(c.Body()) > 0 {
		var m map[string]any
		if err := json.Unmarshal(c.Body(), &m); err != nil {
			return nil, err
		}
		if m == nil {
			m = map[string]any{}
		}
		return m, nil
	}

	params := map[string]any{}
	c.Context().QueryArgs().VisitAll(func(key, value []byte) {
		k, v := string(key), string(value)
		var decoded any
		if json.Unmarshal(value, &decoded) == nil {
			params[k] = decoded
			return
		}
		params[k] = v
	})
	return params, nil
}

// --- registration ---

func (s *server) registerRegistrationRoutes(app *fiber.App) {
	app.Post("/users", s.handleRegister)
	app.Post("/reg/user", s.handleRegister)
	app.Get("/reg/:username/check_username", s.handleCheckUsername)
	app.Get("/reg/:email/check_email", s.handleCheckEmail)
}

func (s *server) handleRegister(c fiber.Ctx) error {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Email    string `json:"email"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return apierrors.New(apierrors.InvalidParametersFormat, "malformed JSON body")
	}
	u, err := s.accountSvc.Register(c.Context(), account.RegisterParams{
		Username: body.Username, Password: body.Password, Email: body.Email, Language: body.Language,
	})
	if err != nil {
		return mapAccountError(err)
	}
	return httputil.SuccessStatus(c, 201, now(), "user", fiber.Map{"username": u.Username, "id": u.ID})
}

func (s *server) handleCheckUsername(c fiber.Ctx) error {
	_, err := s.users.GetByUsername(c.Context(), c.Params("username"))
	return httputil.Success(c, now(), "reserved", err == nil)
}

func (s *server) handleCheckEmail(c fiber.Ctx) error {
	_, err := s.sysValues.FindByIndexedValue(c.Context(), emailStreamID, c.Params("email"))
	return httputil.Success(c, now(), "reserved", err == nil)
}

// --- auth/account ---

func (s *server) handleLogin(c fiber.Ctx) error {
	var body struct {
		Username, Password, AppID, MFACode, Ticket string
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return apierrors.New(apierrors.InvalidParametersFormat, "malformed JSON body")
	}
	result, challenge, err := s.accountSvc.Login(c.Context(), account.LoginParams{
		Username: body.Username, Password: body.Password, AppID: body.AppID,
		Origin: c.Get("Origin"), MFACode: body.MFACode, Ticket: body.Ticket,
	})
	if err != nil {
		return mapAccountError(err)
	}
	if challenge != nil {
		return httputil.Success(c, now(), "mfaChallenge", challenge)
	}
	return httputil.Success(c, now(), "login", result)
}

func (s *server) handleLogout(c fiber.Ctx) error {
	token := c.Get("Authorization")
	if token == "" {
		token = c.Query("auth")
	}
	if token == "" {
		return apierrors.New(apierrors.InvalidCredentials, "no access token supplied")
	}
	_ = s.accountSvc.Logout(c.Context(), token)
	return httputil.Success(c, now(), "logout", fiber.Map{"status": "ok"})
}

func (s *server) handleGetAccount(c fiber.Ctx) error {
	rc := reqctx.FromFiber(c)
	id, err := uuid.Parse(rc.UserID)
	if err != nil {
		return apierrors.New(apierrors.InvalidCredentials, "malformed user id")
	}
	values, err := s.accountSvc.Get(c.Context(), id)
	if err != nil {
		return apierrors.Wrap(err)
	}
	return httputil.Success(c, now(), "account", values)
}

// handleUpdateAccount writes each supplied system-stream leaf value directly, mirroring account.Service.Get's
// "every recorded system-stream leaf value, keyed by stream id" shape without needing a dedicated update method.
func (s *server) handleUpdateAccount(c fiber.Ctx) error {
	rc := reqctx.FromFiber(c)
	var updates map[string]string
	if err := json.Unmarshal(c.Body(), &updates); err != nil {
		return apierrors.New(apierrors.InvalidParametersFormat, "malformed JSON body")
	}
	for streamID, value := range updates {
		def, ok := systemstream.Lookup(streamID)
		if !ok || def.Ns != systemstream.Customer {
			return apierrors.New(apierrors.InvalidOperation, "not a customer-editable account field: "+streamID)
		}
		if !rc.CanUpdateEventsOnStream(streamID) {
			return apierrors.New(apierrors.Forbidden, "update permission required on "+streamID)
		}
		if _, err := s.sysValues.Set(c.Context(), rc.UserID, streamID, value); err != nil {
			return apierrors.Wrap(err)
		}
	}
	return httputil.Success(c, now(), "account", updates)
}

func (s *server) handleChangePassword(c fiber.Ctx) error {
	rc := reqctx.FromFiber(c)
	var body struct{ OldPassword, NewPassword string }
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return apierrors.New(apierrors.InvalidParametersFormat, "malformed JSON body")
	}
	id, err := uuid.Parse(rc.UserID)
	if err != nil {
		return apierrors.New(apierrors.InvalidCredentials, "malformed user id")
	}
	if err := s.accountSvc.ChangePassword(c.Context(), id, body.OldPassword, body.NewPassword); err != nil {
		return mapAccountError(err)
	}
	return httputil.Success(c, now(), "changePassword", fiber.Map{"status": "ok"})
}

func (s *server) handleRequestPasswordReset(c fiber.Ctx) error {
	token, err := s.accountSvc.RequestPasswordReset(c.Context(), c.Params("username"))
	if err != nil {
		return mapAccountError(err)
	}
	return httputil.Success(c, now(), "requestPasswordReset", fiber.Map{"resetToken": token})
}

func (s *server) handleResetPassword(c fiber.Ctx) error {
	var body struct{ ResetToken, NewPassword string }
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return apierrors.New(apierrors.InvalidParametersFormat, "malformed JSON body")
	}
	if err := s.accountSvc.ResetPassword(c.Context(), body.ResetToken, body.NewPassword); err != nil {
		return mapAccountError(err)
	}
	return httputil.Success(c, now(), "resetPassword", fiber.Map{"status": "ok"})
}

func (s *server) handleMFAEnable(c fiber.Ctx) error {
	rc := reqctx.FromFiber(c)
	id, err := uuid.Parse(rc.UserID)
	if err != nil {
		return apierrors.New(apierrors.InvalidCredentials, "malformed user id")
	}
	secret, otpauthURL, err := s.accountSvc.EnableMFA(c.Context(), id, c.Params("username"))
	if err != nil {
		return apierrors.Wrap(err)
	}
	return httputil.Success(c, now(), "mfa", fiber.Map{"secret": secret, "otpauthUrl": otpauthURL})
}

func (s *server) handleMFAConfirm(c fiber.Ctx) error {
	rc := reqctx.FromFiber(c)
	id, err := uuid.Parse(rc.UserID)
	if err != nil {
		return apierrors.New(apierrors.InvalidCredentials, "malformed user id")
	}
	var body struct{ Code string }
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return apierrors.New(apierrors.InvalidParametersFormat, "malformed JSON body")
	}
	codes, err := s.accountSvc.ConfirmMFA(c.Context(), id, body.Code)
	if err != nil {
		return mapAccountError(err)
	}
	return httputil.Success(c, now(), "mfa", fiber.Map{"recoveryCodes": codes})
}

func (s *server) handleMFADisable(c fiber.Ctx) error {
	rc := reqctx.FromFiber(c)
	id, err := uuid.Parse(rc.UserID)
	if err != nil {
		return apierrors.New(apierrors.InvalidCredentials, "malformed user id")
	}
	if err := s.accountSvc.DisableMFA(c.Context(), id); err != nil && err != mfa.ErrNotFound {
		return apierrors.Wrap(err)
	}
	return httputil.Success(c, now(), "mfa", fiber.Map{"status": "ok"})
}

func (s *server) handleAccessInfo(c fiber.Ctx) error {
	rc := reqctx.FromFiber(c)
	return httputil.Success(c, now(), "accessInfo", rc.Access)
}

func mapAccountError(err error) *apierrors.APIError {
	switch err {
	case account.ErrInvalidCredentials, account.ErrInvalidMFACode, account.ErrInvalidResetToken:
		return apierrors.New(apierrors.InvalidCredentials, err.Error())
	case account.ErrUntrustedApp:
		return apierrors.New(apierrors.Forbidden, err.Error())
	case account.ErrUsernameTaken, account.ErrEmailTaken:
		return apierrors.New(apierrors.ItemAlreadyExists, err.Error())
	case account.ErrDisposableEmail, account.ErrPasswordReused, account.ErrPasswordTooYoung, account.ErrMFANotEnabled:
		return apierrors.New(apierrors.InvalidOperation, err.Error())
	default:
		if _, ok := err.(*apierrors.APIError); ok {
			return err.(*apierrors.APIError)
		}
		return apierrors.Wrap(err)
	}
}

// --- events create (multipart attachments) ---

// handleCreateEvent dispatches events.create through the method pipeline, then — when the request was submitted as
// multipart/form-data rather than plain JSON — moves each uploaded file part into storage and indexes it onto the
// freshly created event's attachments array (spec §4.8), computing size and a SHA-256 integrity digest per file.
func (s *server) handleCreateEvent(c fiber.Ctx) error {
	rc := reqctx.FromFiber(c)

	form, err := c.MultipartForm()
	if err != nil || form == nil {
		return s.handleMethod("events.create")(c)
	}

	eventField := form.Value["event"]
	if len(eventField) == 0 {
		return apierrors.New(apierrors.InvalidParametersFormat, `multipart request requires an "event" field`)
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(eventField[0]), &params); err != nil {
		return apierrors.New(apierrors.InvalidParametersFormat, "event field is not valid JSON")
	}

	result, apiErr := s.registry.Call(rc, "events.create", params)
	if apiErr != nil {
		return apiErr
	}
	ev, _ := result.Resources["event"].(*event.Event)
	if ev == nil {
		return result.WriteToHTTPResponse(c, now())
	}

	var attachments []event.Attachment
	for _, files := range form.File {
		for _, fh := range files {
			f, err := fh.Open()
			if err != nil {
				return apierrors.Wrap(err)
			}
			hasher := sha256.New()
			storageKey := rc.UserID + "/" + ev.ID + "/" + uuid.New().String()
			if err := func() error {
				defer f.Close()
				return nil
			}(); err != nil {
				return apierrors.Wrap(err)
			}
			f2, _ := fh.Open()
			defer f2.Close()
			tee := io.TeeReader(f2, hasher)
			if err := s.gate.Storage().Put(c.Context(), storageKey, tee); err != nil {
				return apierrors.Wrap(err)
			}
			attachments = append(attachments, event.Attachment{
				ID: uuid.New().String(), FileName: fh.Filename, Type: fh.Header.Get("Content-Type"),
				Size: fh.Size, Integrity: base64.StdEncoding.EncodeToString(hasher.Sum(nil)), StorageKey: storageKey,
			})
		}
	}
	if len(attachments) > 0 {
		updated, err := s.events.SetAttachments(c.Context(), rc.UserID, ev.ID, attachments, rc.Access.ID)
		if err != nil {
			return apierrors.Wrap(err)
		}
		ev = updated
	}

	if !rc.DisableBackwardCompatPrefix {
		denormalizeEvent(ev)
	}
	return httputil.SuccessStatus(c, result.Status, now(), "event", ev)
}

// --- attachments ---

func (s *server) handleAttachmentRead(c fiber.Ctx) error {
	u, err := s.users.GetByUsername(c.Context(), c.Params("username"))
	if err != nil {
		return apierrors.UnknownResource("user", c.Params("username"))
	}

	var rc *reqctx.Context
	if token, ok := bearerToken(c); ok {
		rc, _ = s.resolver.ResolveToken(c.Context(), u.ID.String(), token, c.IP(), c.Get("Origin"))
	}

	body, att, err := s.gate.Open(c.Context(), rc, u.ID.String(), c.Params("id"), c.Params("fileId"), c.Query("readToken"))
	if err != nil {
		return apierrors.UnknownResource("attachment", c.Params("fileId"))
	}
	defer body.Close()

	c.Set("Content-Disposition", attachment.ContentDisposition(att.FileName))
	if digest := attachment.DigestHeader(att.Integrity); digest != "" {
		c.Set("Digest", digest)
	}
	c.Set("Content-Type", att.Type)
	_, err = io.Copy(c.Response().BodyWriter(), body)
	return err
}

func (s *server) handleAttachmentDelete(c fiber.Ctx) error {
	rc := reqctx.FromFiber(c)
	ev, err := s.events.Get(c.Context(), rc.UserID, c.Params("id"))
	if err != nil {
		return apierrors.UnknownResource("event", c.Params("id"))
	}
	if !rc.Evaluator.CanWriteEvent(ev.StreamIDs) {
		return apierrors.New(apierrors.Forbidden, "write permission required on this event")
	}
	remaining := make([]event.Attachment, 0, len(ev.Attachments))
	for _, a := range ev.Attachments {
		if a.ID != c.Params("fileId") {
			remaining = append(remaining, a)
		}
	}
	updated, err := s.events.SetAttachments(c.Context(), rc.UserID, ev.ID, remaining, rc.Access.ID)
	if err != nil {
		return apierrors.Wrap(err)
	}
	return httputil.Success(c, now(), "event", updated)
}

func bearerToken(c fiber.Ctx) (string, bool) {
	if h := c.Get("Authorization"); h != "" {
		return h, true
	}
	if q := c.Query("auth"); q != "" {
		return q, true
	}
	return "", false
}

// --- profile ---

func (s *server) handleProfileGet(c fiber.Ctx) error {
	rc := reqctx.FromFiber(c)
	entry, err := s.profiles.Get(c.Context(), rc.UserID, profile.Scope(c.Params("scope")), c.Query("clientId"))
	if err != nil {
		return apierrors.Wrap(err)
	}
	return httputil.Success(c, now(), "profile", entry)
}

func (s *server) handleProfileSet(c fiber.Ctx) error {
	rc := reqctx.FromFiber(c)
	var data map[string]any
	if err := json.Unmarshal(c.Body(), &data); err != nil {
		return apierrors.New(apierrors.InvalidParametersFormat, "malformed JSON body")
	}
	entry, err := s.profiles.Set(c.Context(), rc.UserID, profile.Scope(c.Params("scope")), c.Query("clientId"), data)
	if err != nil {
		return apierrors.Wrap(err)
	}
	return httputil.Success(c, now(), "profile", entry)
}

// --- followed slices ---

func (s *server) handleFollowedSlicesList(c fiber.Ctx) error {
	rc := reqctx.FromFiber(c)
	list, err := s.followed.List(c.Context(), rc.UserID)
	if err != nil {
		return apierrors.Wrap(err)
	}
	return httputil.Success(c, now(), "followedSlices", list)
}

func (s *server) handleFollowedSliceCreate(c fiber.Ctx) error {
	rc := reqctx.FromFiber(c)
	var p followedslice.CreateParams
	if err := json.Unmarshal(c.Body(), &p); err != nil {
		return apierrors.New(apierrors.InvalidParametersFormat, "malformed JSON body")
	}
	fs, err := s.followed.Create(c.Context(), rc.UserID, p)
	if err != nil {
		return apierrors.Wrap(err)
	}
	return httputil.SuccessStatus(c, 201, now(), "followedSlice", fs)
}

func (s *server) handleFollowedSliceUpdate(c fiber.Ctx) error {
	rc := reqctx.FromFiber(c)
	var p followedslice.UpdateParams
	if err := json.Unmarshal(c.Body(), &p); err != nil {
		return apierrors.New(apierrors.InvalidParametersFormat, "malformed JSON body")
	}
	fs, err := s.followed.Update(c.Context(), rc.UserID, c.Params("id"), p)
	if err != nil {
		return apierrors.Wrap(err)
	}
	return httputil.Success(c, now(), "followedSlice", fs)
}

func (s *server) handleFollowedSliceDelete(c fiber.Ctx) error {
	rc := reqctx.FromFiber(c)
	if err := s.followed.Delete(c.Context(), rc.UserID, c.Params("id")); err != nil {
		return apierrors.Wrap(err)
	}
	return httputil.Success(c, now(), "followedSliceDeletion", fiber.Map{"id": c.Params("id")})
}

// --- webhooks ---

func (s *server) handleWebhooksList(c fiber.Ctx) error {
	rc := reqctx.FromFiber(c)
	list, err := s.webhooks.List(c.Context(), rc.UserID)
	if err != nil {
		return apierrors.Wrap(err)
	}
	return httputil.Success(c, now(), "webhooks", list)
}

func (s *server) handleWebhookCreate(c fiber.Ctx) error {
	rc := reqctx.FromFiber(c)
	var p webhook.CreateParams
	if err := json.Unmarshal(c.Body(), &p); err != nil {
		return apierrors.New(apierrors.InvalidParametersFormat, "malformed JSON body")
	}
	w, err := s.webhooks.Create(c.Context(), rc.UserID, p, rc.Access.ID)
	if err != nil {
		return apierrors.Wrap(err)
	}
	return httputil.SuccessStatus(c, 201, now(), "webhook", w)
}

func (s *server) handleWebhookDelete(c fiber.Ctx) error {
	rc := reqctx.FromFiber(c)
	if err := s.webhooks.Delete(c.Context(), rc.UserID, c.Params("id")); err != nil {
		return apierrors.Wrap(err)
	}
	return httputil.Success(c, now(), "webhookDeletion", fiber.Map{"id": c.Params("id")})
}

// --- batch ---

func (s *server) handleBatch(c fiber.Ctx) error {
	rc := reqctx.FromFiber(c)
	var body struct {
		Methods []batch.Item `json:"methods"`
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return apierrors.New(apierrors.InvalidParametersFormat, "malformed JSON body")
	}
	results := batch.Run(rc, s.registry, body.Methods)
	out := make([]map[string]any, len(results))
	for i, r := range results {
		if r.Error != nil {
			out[i] = map[string]any{"error": r.Error}
		} else {
			if rc != nil && !rc.DisableBackwardCompatPrefix {
				denormalizeResources(r.Resources)
			}
			out[i] = map[string]any{"status": r.Status, "resources": r.Resources}
		}
	}
	return httputil.Success(c, now(), "results", out)
}

// --- admin ---

func (s *server) registerAdminRoutes(app *fiber.App) {
	admin := app.Group("/system", s.requireAdmin)
	admin.Post("/create-user", s.handleRegister)
	admin.Get("/user-info/:username", s.handleAdminUserInfo)
	admin.Post("/users/:username/mfa", s.handleAdminDisableMFA)
}

// requireAdmin gates /system/* behind the static admin access key (config.AdminAccessKey); any mismatch — missing
// key, wrong key, or an unconfigured key — is masked as unknown-resource so the admin surface's very existence isn't
// disclosed to an unauthenticated caller.
func (s *server) requireAdmin(c fiber.Ctx) error {
	if s.cfg.AdminAccessKey == "" || c.Get("Authorization") != s.cfg.AdminAccessKey {
		return apierrors.UnknownResource("system", c.Path())
	}
	return c.Next()
}

func (s *server) handleAdminUserInfo(c fiber.Ctx) error {
	u, err := s.users.GetByUsername(c.Context(), c.Params("username"))
	if err != nil {
		return apierrors.UnknownResource("system", c.Path())
	}
	values, err := s.accountSvc.Get(c.Context(), u.ID)
	if err != nil {
		return apierrors.Wrap(err)
	}
	return httputil.Success(c, now(), "userInfo", fiber.Map{"username": u.Username, "account": values})
}

func (s *server) handleAdminDisableMFA(c fiber.Ctx) error {
	u, err := s.users.GetByUsername(c.Context(), c.Params("username"))
	if err != nil {
		return apierrors.UnknownResource("system", c.Path())
	}
	if err := s.accountSvc.DisableMFA(c.Context(), u.ID); err != nil && err != mfa.ErrNotFound {
		return apierrors.Wrap(err)
	}
	return httputil.Success(c, now(), "mfa", fiber.Map{"status": "ok"})
}

