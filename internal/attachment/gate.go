// Package attachment implements the file-attachment read gate (spec §4.8): locating an event's attachment metadata,
// authorizing the read either by stream permission or by a signed files-read token, and streaming the file body back
// with the right Content-Disposition/Digest headers. There is no attachment table of its own — attachment metadata
// lives inline on the owning event (internal/event.Attachment) and only the file bytes live in object storage,
// accessed through internal/media's StorageProvider abstraction.
package attachment

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"

	"github.com/pryv-io/core/internal/auth"
	"github.com/pryv-io/core/internal/event"
	"github.com/pryv-io/core/internal/media"
	"github.com/pryv-io/core/internal/reqctx"
)

// Sentinel errors for the attachment gate.
var (
	ErrEventNotFound      = errors.New("event not found")
	ErrAttachmentNotFound = errors.New("attachment not found on event")
	ErrForbidden          = errors.New("caller may not read this attachment")
)

// Gate resolves and authorizes reads of an event's file attachments. It holds no state of its own beyond the
// collaborators needed to look up the owning event, verify a read token, and open the stored file.
type Gate struct {
	events     event.Repository
	storage    media.StorageProvider
	readSecret string // hex-encoded HMAC key backing files-read tokens (§4.1)
}

// NewGate builds an attachment gate. readTokenSecret is the hex-encoded key used to compute and verify files-read
// tokens (config.FilesReadTokenSecret); an empty secret disables token-based reads, leaving stream permission as the
// only path.
func NewGate(events event.Repository, storage media.StorageProvider, readTokenSecret string) *Gate {
	return &Gate{events: events, storage: storage, readSecret: readTokenSecret}
}

// Storage returns the store the gate opens attachment bodies from, so the upload path writes to the same place.
func (g *Gate) Storage() media.StorageProvider {
	return g.storage
}

// ReadToken computes the files-read token for one event/attachment pair, handed out alongside the attachment's
// `url` in event responses so a caller without stream-access headers (e.g. an <img> tag) can still fetch the file.
func (g *Gate) ReadToken(eventID, fileID string) (string, error) {
	if g.readSecret == "" {
		return "", errors.New("files-read tokens are disabled: no AUTH_FILES_READ_TOKEN_SECRET configured")
	}
	return auth.HMACIdentifier(eventID+"/"+fileID, g.readSecret)
}

func (g *Gate) verifyReadToken(eventID, fileID, token string) bool {
	if g.readSecret == "" || token == "" {
		return false
	}
	want, err := auth.HMACIdentifier(eventID+"/"+fileID, g.readSecret)
	if err != nil {
		return false
	}
	return hmacEqual(want, token)
}

func hmacEqual(a, b string) bool {
	ab, err1 := hex.DecodeString(a)
	bb, err2 := hex.DecodeString(b)
	if err1 != nil || err2 != nil || len(ab) != len(bb) {
		return false
	}
	var v byte
	for i := range ab {
		v |= ab[i] ^ bb[i]
	}
	return v == 0
}

// authorize reports whether the caller may read fileID on the given event: either rc holds read permission on one of
// the event's streams, or readToken is a valid files-read token for this exact event/file pair (§4.1's "files-read
// token" resolution path bypasses the normal access-token checks by design, scoped to a single file).
func (g *Gate) authorize(rc *reqctx.Context, ev *event.Event, fileID, readToken string) bool {
	if g.verifyReadToken(ev.ID, fileID, readToken) {
		return true
	}
	if rc == nil {
		return false
	}
	for _, streamID := range ev.StreamIDs {
		if rc.CanGetEventsOnStream(streamID) {
			return true
		}
	}
	return false
}

// Open resolves, authorizes, and opens the file body for eventID/fileID. rc may be nil when the caller is
// authorizing purely via readToken (an anonymous file fetch); at least one of rc or a valid readToken must grant
// access, or ErrForbidden is returned.
func (g *Gate) Open(ctx context.Context, rc *reqctx.Context, userID, eventID, fileID, readToken string) (io.ReadCloser, *event.Attachment, error) {
	ev, err := g.events.Get(ctx, userID, eventID)
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			return nil, nil, ErrEventNotFound
		}
		return nil, nil, fmt.Errorf("load event for attachment read: %w", err)
	}

	var att *event.Attachment
	for i := range ev.Attachments {
		if ev.Attachments[i].ID == fileID {
			att = &ev.Attachments[i]
			break
		}
	}
	if att == nil {
		return nil, nil, ErrAttachmentNotFound
	}

	if !g.authorize(rc, ev, fileID, readToken) {
		return nil, nil, ErrForbidden
	}

	rc2, err := g.storage.Get(ctx, att.StorageKey)
	if err != nil {
		return nil, nil, fmt.Errorf("open attachment storage: %w", err)
	}
	return rc2, att, nil
}

// ContentDisposition builds an RFC 5987-encoded Content-Disposition header value for filename, so non-ASCII names
// survive download without corruption.
func ContentDisposition(filename string) string {
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`,
		mime.QEncoding.Encode("UTF-8", filename), url.PathEscape(filename))
}

// DigestHeader builds a Digest header value from an attachment's stored integrity hash, which is recorded as a
// base64-encoded SHA-256 digest at upload time (§4.5).
func DigestHeader(integrity string) string {
	if integrity == "" {
		return ""
	}
	if _, err := base64.StdEncoding.DecodeString(integrity); err != nil {
		return ""
	}
	return "sha-256=" + integrity
}
