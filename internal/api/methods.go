package api

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/pryv-io/core/internal/access"
	"github.com/pryv-io/core/internal/apierrors"
	"github.com/pryv-io/core/internal/event"
	"github.com/pryv-io/core/internal/legacyprefix"
	"github.com/pryv-io/core/internal/method"
	"github.com/pryv-io/core/internal/permission"
	"github.com/pryv-io/core/internal/reqctx"
	"github.com/pryv-io/core/internal/stream"
	"github.com/pryv-io/core/internal/streamquery"
	"github.com/pryv-io/core/internal/systemstream"
	"github.com/pryv-io/core/internal/versioning"
)

// RegisterMethods wires the streams.*/events.*/accesses.* operations (spec §4.3-§4.6) into registry as ordered
// step pipelines, the pattern internal/method's own design notes describe: a common-fn (InitTrackingProperties) runs
// first, then permission checks, then the repository call.
func RegisterMethods(registry *method.Registry, streams stream.Repository, events event.Repository, versioningEngine *versioning.Engine, accessMgr *access.Manager, logger zerolog.Logger) {
	registerStreamMethods(registry, streams, versioningEngine, logger)
	registerEventMethods(registry, events, versioningEngine, logger)
	registerAccessMethods(registry, accessMgr, logger)
}

func trackingStep(rc *reqctx.Context, _ map[string]any, _ *method.Result) error {
	rc.InitTrackingProperties()
	return nil
}

// sanitizeContentStep is the content-normalization common-fn (§4.2): when an event's type names HTML-bearing
// content, its inline string content is run through bluemonday's UGC policy before any permission check or
// persistence sees it, so a stored event can never carry markup a later read would need to re-sanitize.
func sanitizeContentStep(_ *reqctx.Context, params map[string]any, _ *method.Result) error {
	typ, _ := optString(params, "type")
	if !event.IsHTMLType(typ) {
		return nil
	}
	content, ok := params["content"].(string)
	if !ok {
		return nil
	}
	params["content"] = event.SanitizeHTML(content)
	return nil
}

// --- streams.* ---

func registerStreamMethods(registry *method.Registry, streams stream.Repository, engine *versioning.Engine, logger zerolog.Logger) {
	registry.Register("streams.create",
		trackingStep,
		func(rc *reqctx.Context, params map[string]any, result *method.Result) error {
			id, _ := optString(params, "id")
			name, err := reqString(params, "name")
			if err != nil {
				return err
			}
			parentID := optStringPtr(params, "parentId")

			scope := permission.WildcardStream
			if parentID != nil {
				scope = *parentID
			}
			if !rc.CanManageStream(scope) {
				return apierrors.New(apierrors.Forbidden, "manage permission required on the parent stream")
			}

			s, err := streams.Create(rc.Ctx, rc.UserID, stream.CreateParams{
				ID: id, Name: name, ParentID: parentID,
				SingleActivity: optBool(params, "singleActivity", false),
				ClientData:     optMap(params, "clientData"),
			}, rc.Access.ID)
			if err != nil {
				return mapStreamError(err)
			}
			result.Status = 201
			result.Set("stream", s)
			return nil
		},
	)

	registry.Register("streams.get",
		trackingStep,
		func(rc *reqctx.Context, params map[string]any, result *method.Result) error {
			storeID := "local"
			if v, ok := optString(params, "storeId"); ok && v != "" {
				storeID = v
			}
			all, err := streams.List(rc.Ctx, rc.UserID, storeID)
			if err != nil {
				return apierrors.Wrap(err)
			}
			includeTrashed := optBool(params, "includeDeletionsSince", false)
			visible := make([]stream.Stream, 0, len(all))
			for _, s := range all {
				if s.Trashed && !includeTrashed {
					continue
				}
				if !rc.CanGetEventsOnStream(s.ID) {
					continue
				}
				visible = append(visible, s)
			}
			result.Set("streams", visible)
			return nil
		},
	)

	registry.Register("streams.update",
		trackingStep,
		func(rc *reqctx.Context, params map[string]any, result *method.Result) error {
			id, err := reqString(params, "id")
			if err != nil {
				return err
			}
			if !rc.CanManageStream(id) {
				return apierrors.New(apierrors.Forbidden, "manage permission required on this stream")
			}
			var parentUpdate **string
			if raw, ok := params["parentId"]; ok {
				if raw == nil {
					var nilParent *string
					parentUpdate = &nilParent
				} else if s, ok := raw.(string); ok {
					v := s
					ptr := &v
					parentUpdate = &ptr
				}
			}

			s, err := streams.Update(rc.Ctx, rc.UserID, id, stream.UpdateParams{
				Name:           optStringPtr(params, "name"),
				ParentID:       parentUpdate,
				SingleActivity: optBoolPtr(params, "singleActivity"),
				ClientData:     optMap(params, "clientData"),
			}, rc.Access.ID)
			if err != nil {
				return mapStreamError(err)
			}
			result.Set("stream", s)
			return nil
		},
	)

	registry.Register("streams.delete",
		trackingStep,
		func(rc *reqctx.Context, params map[string]any, result *method.Result) error {
			id, err := reqString(params, "id")
			if err != nil {
				return err
			}
			if !rc.CanManageStream(id) {
				return apierrors.New(apierrors.Forbidden, "manage permission required on this stream")
			}
			s, err := streams.Get(rc.Ctx, rc.UserID, id)
			if err != nil {
				return mapStreamError(err)
			}
			if !s.Trashed {
				trashed, err := streams.Trash(rc.Ctx, rc.UserID, id, rc.Access.ID)
				if err != nil {
					return mapStreamError(err)
				}
				result.Set("stream", trashed)
				return nil
			}

			merge := optBool(params, "mergeEventsWithParent", false)
			if err := engine.DeleteStream(rc.Ctx, versioning.DeleteStreamParams{
				UserID: rc.UserID, StreamID: id, MergeEventsWithParent: merge, ActorAccessID: rc.Access.ID,
			}); err != nil {
				if errors.Is(err, versioning.ErrRootCannotMerge) {
					return apierrors.New(apierrors.InvalidOperation, err.Error())
				}
				return mapStreamError(err)
			}
			result.Set("streamDeletion", map[string]string{"id": id})
			return nil
		},
	)
}

func mapStreamError(err error) error {
	switch {
	case errors.Is(err, stream.ErrNotFound):
		return apierrors.UnknownResource("stream", "")
	case errors.Is(err, stream.ErrAlreadyExists), errors.Is(err, stream.ErrNameTaken):
		return apierrors.New(apierrors.ItemAlreadyExists, err.Error())
	case errors.Is(err, stream.ErrInvalidID), errors.Is(err, stream.ErrCycle):
		return apierrors.New(apierrors.InvalidOperation, err.Error())
	case errors.Is(err, stream.ErrParentNotFound):
		return apierrors.New(apierrors.UnknownReferencedResource, err.Error())
	case errors.Is(err, stream.ErrSystemImmutable), errors.Is(err, stream.ErrNotTrashed):
		return apierrors.New(apierrors.Forbidden, err.Error())
	default:
		return apierrors.Wrap(err)
	}
}

// --- events.* ---

func registerEventMethods(registry *method.Registry, events event.Repository, engine *versioning.Engine, logger zerolog.Logger) {
	registry.Register("events.create",
		trackingStep,
		sanitizeContentStep,
		func(rc *reqctx.Context, params map[string]any, result *method.Result) error {
			streamIDs, err := reqStringSlice(params, "streamIds")
			if err != nil {
				if id, ok := optString(params, "streamId"); ok {
					streamIDs = []string{id}
				} else {
					return err
				}
			}
			streamIDs = legacyprefix.NormalizeStreamIDs(streamIDs)
			if tags := optStringSlice(params, "tags"); len(tags) > 0 {
				streamIDs = append(streamIDs, legacyprefix.NormalizeTags(tags)...)
			}
			if err := event.ValidateStreamIDs(streamIDs, systemstream.IsSystemStreamID); err != nil {
				return apierrors.New(apierrors.InvalidOperation, err.Error())
			}
			if !rc.Evaluator.CanWriteEvent(streamIDs) {
				return apierrors.New(apierrors.Forbidden, "create/contribute permission required on at least one stream")
			}

			typ, err := reqString(params, "type")
			if err != nil {
				return err
			}
			evTime := time.Now()
			if v, ok := params["time"].(float64); ok {
				evTime = time.Unix(int64(v), 0)
			}
			durPtr, err := optFloat64Ptr(params, "duration")
			if err != nil {
				return err
			}
			var duration *float64
			if durPtr != nil {
				duration = *durPtr
			}

			ev, err := events.Create(rc.Ctx, rc.UserID, event.CreateParams{
				StreamIDs: streamIDs, Type: typ, Time: evTime, Duration: duration,
				Content: params["content"],
			}, rc.Access.ID)
			if err != nil {
				return mapEventError(err)
			}
			result.Status = 201
			result.Set("event", ev)
			return nil
		},
	)

	registry.Register("events.get",
		trackingStep,
		func(rc *reqctx.Context, params map[string]any, result *method.Result) error {
			if id, ok := optString(params, "id"); ok && id != "" {
				ev, err := events.Get(rc.Ctx, rc.UserID, id)
				if err != nil {
					return mapEventError(err)
				}
				if !rc.Evaluator.CanReadEvent(ev.StreamIDs) {
					return apierrors.New(apierrors.Forbidden, "read permission required on this event")
				}
				result.Set("event", ev)
				if optBool(params, "includeHistory", false) {
					history, err := engine.History(rc.Ctx, rc.UserID, id)
					if err != nil {
						return apierrors.Wrap(err)
					}
					result.Set("history", history)
				}
				return nil
			}

			streamsParam := params["streams"]
			if s, ok := streamsParam.(string); streamsParam == nil || (ok && s == "") {
				streamsParam = []string{permission.WildcardStream}
			}
			filter, err := streamquery.Compile(streamsParam, rc.Tree, rc.Evaluator)
			if err != nil {
				return apierrors.New(apierrors.InvalidRequestStructure, err.Error())
			}
			opts := event.ListOptions{
				Types: optStringSlice(params, "types"),
				State: "default",
				Limit: 500,
			}
			if v, ok := optString(params, "state"); ok && v != "" {
				opts.State = v
			}
			if v, ok := params["limit"].(float64); ok {
				opts.Limit = int(v)
			}
			if v, ok := params["skip"].(float64); ok {
				opts.Skip = int(v)
			}
			opts.SortAscending = optBool(params, "sortAscending", false)

			list, err := events.FilterStore(rc.Ctx, rc.UserID, filter, opts)
			if err != nil {
				return apierrors.Wrap(err)
			}
			result.Set("events", list)
			return nil
		},
	)

	registry.Register("events.update",
		trackingStep,
		sanitizeContentStep,
		func(rc *reqctx.Context, params map[string]any, result *method.Result) error {
			id, err := reqString(params, "id")
			if err != nil {
				return err
			}
			existing, err := events.Get(rc.Ctx, rc.UserID, id)
			if err != nil {
				return mapEventError(err)
			}
			if !rc.Evaluator.CanUpdateEvent(existing.StreamIDs) {
				return apierrors.New(apierrors.Forbidden, "update permission required on this event")
			}

			var newStreamIDs *[]string
			_, hasStreamIDs := params["streamIds"]
			tags := optStringSlice(params, "tags")
			if hasStreamIDs || len(tags) > 0 {
				var ids []string
				if hasStreamIDs {
					var err error
					ids, err = reqStringSlice(map[string]any{"streamIds": params["streamIds"]}, "streamIds")
					if err != nil {
						return err
					}
				} else {
					ids = existing.StreamIDs
				}
				ids = legacyprefix.NormalizeStreamIDs(ids)
				if len(tags) > 0 {
					ids = append(ids, legacyprefix.NormalizeTags(tags)...)
				}
				if err := event.ValidateStreamIDs(ids, systemstream.IsSystemStreamID); err != nil {
					return apierrors.New(apierrors.InvalidOperation, err.Error())
				}
				if !rc.Evaluator.CanUpdateEvent(ids) {
					return apierrors.New(apierrors.Forbidden, "update permission required on the target streams")
				}
				newStreamIDs = &ids
			}

			var durUpdate **float64
			if raw, ok := params["duration"]; ok {
				dp, err := optFloat64Ptr(map[string]any{"duration": raw}, "duration")
				if err != nil {
					return err
				}
				durUpdate = dp
			}

			ev, err := engine.UpdateEvent(rc.Ctx, rc.UserID, id, event.UpdateParams{
				StreamIDs: newStreamIDs,
				Type:      optStringPtr(params, "type"),
				Content:   contentPtr(params),
				Duration:  durUpdate,
			}, rc.Access.ID)
			if err != nil {
				return mapEventError(err)
			}
			result.Set("event", ev)
			return nil
		},
	)

	registry.Register("events.delete",
		trackingStep,
		func(rc *reqctx.Context, params map[string]any, result *method.Result) error {
			id, err := reqString(params, "id")
			if err != nil {
				return err
			}
			existing, err := events.Get(rc.Ctx, rc.UserID, id)
			if err != nil {
				return mapEventError(err)
			}
			if !rc.Evaluator.CanUpdateEvent(existing.StreamIDs) {
				return apierrors.New(apierrors.Forbidden, "update permission required on this event")
			}
			ev, err := engine.DeleteEvent(rc.Ctx, rc.UserID, id, rc.Access.ID)
			if err != nil {
				return mapEventError(err)
			}
			result.Set("eventDeletion", ev)
			return nil
		},
	)
}

func contentPtr(params map[string]any) *any {
	if v, ok := params["content"]; ok {
		return &v
	}
	return nil
}

func mapEventError(err error) error {
	switch {
	case errors.Is(err, event.ErrNotFound):
		return apierrors.UnknownResource("event", "")
	case errors.Is(err, event.ErrEmptyStreamIDs), errors.Is(err, event.ErrAllSystemStreams):
		return apierrors.New(apierrors.InvalidOperation, err.Error())
	case errors.Is(err, event.ErrUnresolvedStreamID):
		return apierrors.New(apierrors.UnknownReferencedResource, err.Error())
	case errors.Is(err, event.ErrSingleActivityOverlap):
		return apierrors.New(apierrors.InvalidOperation, err.Error())
	case errors.Is(err, event.ErrAlreadyTrashed), errors.Is(err, event.ErrAlreadyDeleted):
		return apierrors.New(apierrors.Gone, err.Error())
	default:
		return apierrors.Wrap(err)
	}
}

// --- accesses.* ---

func registerAccessMethods(registry *method.Registry, accesses *access.Manager, logger zerolog.Logger) {
	caller := func(rc *reqctx.Context) access.Caller {
		return access.Caller{Access: rc.Access, Evaluator: rc.Evaluator}
	}

	registry.Register("accesses.create",
		trackingStep,
		func(rc *reqctx.Context, params map[string]any, result *method.Result) error {
			name, err := reqString(params, "name")
			if err != nil {
				return err
			}
			perms, err := parsePermissions(params["permissions"])
			if err != nil {
				return err
			}
			typ := access.TypeShared
			if v, ok := optString(params, "type"); ok {
				if parsed, ok := access.ParseType(v); ok {
					typ = parsed
				}
			}
			a, err := accesses.Create(rc.Ctx, rc.UserID, caller(rc), access.CreateParams{
				Name: name, Type: typ, Permissions: perms,
				DeviceName: func() string { s, _ := optString(params, "deviceName"); return s }(),
				ClientData: optMap(params, "clientData"),
			})
			if err != nil {
				return mapAccessError(err)
			}
			result.Status = 201
			result.Set("access", a)
			return nil
		},
	)

	registry.Register("accesses.get",
		trackingStep,
		func(rc *reqctx.Context, params map[string]any, result *method.Result) error {
			r, err := accesses.Get(rc.Ctx, rc.UserID, caller(rc),
				optBool(params, "includeExpired", false), optBool(params, "includeDeletions", false))
			if err != nil {
				return mapAccessError(err)
			}
			result.Set("accesses", r.Accesses)
			if r.AccessDeletions != nil {
				result.Set("accessDeletions", r.AccessDeletions)
			}
			return nil
		},
	)

	registry.Register("accesses.checkApp",
		trackingStep,
		func(rc *reqctx.Context, params map[string]any, result *method.Result) error {
			appID, err := reqString(params, "requestingAppId")
			if err != nil {
				return err
			}
			perms, err := parsePermissions(params["requestedPermissions"])
			if err != nil {
				return err
			}
			normalizePermissionStreamIDs(perms)
			r, err := accesses.CheckApp(rc.Ctx, rc.UserID, appID, perms, optMap(params, "clientData"))
			if err != nil {
				return mapAccessError(err)
			}
			if r.MatchingAccess != nil {
				result.Set("matchingAccess", r.MatchingAccess)
			}
			if r.MismatchingAccess != nil {
				result.Set("mismatchingAccess", r.MismatchingAccess)
			}
			return nil
		},
	)

	registry.Register("accesses.delete",
		trackingStep,
		func(rc *reqctx.Context, params map[string]any, result *method.Result) error {
			id, err := reqString(params, "id")
			if err != nil {
				return err
			}
			r, err := accesses.Delete(rc.Ctx, rc.UserID, caller(rc), id)
			if err != nil {
				return mapAccessError(err)
			}
			result.Set("accessDeletion", r.AccessDeletion)
			if r.RelatedDeletions != nil {
				result.Set("relatedDeletions", r.RelatedDeletions)
			}
			return nil
		},
	)

	// accesses.update is tombstoned (§4.6: "always returns gone") but still registered so a client calling it through
	// the method pipeline (rather than the HTTP route) sees the same error every other dispatch path would.
	registry.Register("accesses.update",
		trackingStep,
		func(rc *reqctx.Context, params map[string]any, result *method.Result) error {
			id, err := reqString(params, "id")
			if err != nil {
				return err
			}
			_, err = accesses.Update(rc.Ctx, rc.UserID, id, params)
			return mapAccessError(err)
		},
	)
}

// normalizePermissionStreamIDs rewrites every stream-permission atom's StreamID to its canonical form in place, so a
// caller requesting legacy dotted ids (e.g. ".email") compares equal against the normalized ids a stored access
// already carries (§4.10).
func normalizePermissionStreamIDs(perms []permission.Permission) {
	for i, p := range perms {
		if p.Kind == permission.KindStream {
			perms[i].StreamID = legacyprefix.NormalizeStreamID(p.StreamID)
		}
	}
}

func mapAccessError(err error) error {
	switch {
	case errors.Is(err, access.ErrNotFound):
		return apierrors.UnknownResource("access", "")
	case errors.Is(err, access.ErrAlreadyExists):
		return apierrors.New(apierrors.ItemAlreadyExists, err.Error())
	case errors.Is(err, access.ErrForbiddenDelete), errors.Is(err, access.ErrSelfRevokeDisallowed):
		return apierrors.New(apierrors.Forbidden, err.Error())
	case errors.Is(err, access.ErrUpdateGone):
		return apierrors.New(apierrors.Gone, err.Error())
	default:
		return apierrors.Wrap(err)
	}
}
