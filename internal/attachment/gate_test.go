package attachment

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/pryv-io/core/internal/event"
	"github.com/pryv-io/core/internal/permission"
	"github.com/pryv-io/core/internal/reqctx"
	"github.com/pryv-io/core/internal/stream"
)

type fakeEvents struct {
	byID map[string]*event.Event
}

func (f *fakeEvents) Create(ctx context.Context, userID string, p event.CreateParams, actorAccessID string) (*event.Event, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeEvents) Get(ctx context.Context, userID, id string) (*event.Event, error) {
	ev, ok := f.byID[id]
	if !ok {
		return nil, event.ErrNotFound
	}
	return ev, nil
}
func (f *fakeEvents) Update(ctx context.Context, userID, id string, p event.UpdateParams, actorAccessID string) (*event.Event, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeEvents) Trash(ctx context.Context, userID, id string, actorAccessID string) (*event.Event, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeEvents) TombstoneHead(ctx context.Context, userID, id string, actorAccessID string, keepFields bool) (*event.Event, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeEvents) PurgeHistory(ctx context.Context, userID, headID string) error {
	return errors.New("not implemented")
}
func (f *fakeEvents) Overlapping(ctx context.Context, userID, streamID string, start, end time.Time, excludeID string) ([]event.Event, error) {
	return nil, nil
}
func (f *fakeEvents) FilterStore(ctx context.Context, userID string, filter event.Filter, opts event.ListOptions) ([]event.Event, error) {
	return nil, nil
}
func (f *fakeEvents) SetAttachments(ctx context.Context, userID, id string, attachments []event.Attachment, actorAccessID string) (*event.Event, error) {
	return nil, errors.New("not implemented")
}

type fakeStorage struct{ body string }

func (s *fakeStorage) Put(ctx context.Context, key string, r io.Reader) error { return nil }
func (s *fakeStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if key != "blob-1" {
		return nil, errors.New("storage key not found")
	}
	return io.NopCloser(bytes.NewBufferString(s.body)), nil
}
func (s *fakeStorage) Delete(ctx context.Context, key string) error { return nil }
func (s *fakeStorage) URL(key string) string                       { return "/media/" + key }

func testEvent() *event.Event {
	return &event.Event{
		ID:        "evt-1",
		StreamIDs: []string{"diary"},
		Attachments: []event.Attachment{
			{ID: "file-1", FileName: "note.txt", Type: "text/plain", Integrity: "", StorageKey: "blob-1"},
		},
	}
}

func newGate(t *testing.T, secret string) (*Gate, *fakeEvents) {
	t.Helper()
	events := &fakeEvents{byID: map[string]*event.Event{"evt-1": testEvent()}}
	return NewGate(events, &fakeStorage{body: "hello"}, secret), events
}

func rcWithRead(streamID string) *reqctx.Context {
	tree := stream.BuildTree([]stream.Stream{{ID: streamID, Name: streamID}})
	eval := permission.NewEvaluator([]permission.Permission{permission.StreamPermission(streamID, permission.LevelRead)}, tree)
	return &reqctx.Context{Evaluator: eval, Tree: tree}
}

func TestOpen_ByStreamPermission(t *testing.T) {
	t.Parallel()
	g, _ := newGate(t, "")
	rc := rcWithRead("diary")

	r, att, err := g.Open(context.Background(), rc, "user-1", "evt-1", "file-1", "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()
	if att.FileName != "note.txt" {
		t.Errorf("FileName = %q, want note.txt", att.FileName)
	}
	body, _ := io.ReadAll(r)
	if string(body) != "hello" {
		t.Errorf("body = %q, want hello", body)
	}
}

func TestOpen_ForbiddenWithoutPermissionOrToken(t *testing.T) {
	t.Parallel()
	g, _ := newGate(t, "")
	rc := rcWithRead("other-stream")

	_, _, err := g.Open(context.Background(), rc, "user-1", "evt-1", "file-1", "")
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("Open() error = %v, want ErrForbidden", err)
	}
}

func TestOpen_ByReadToken(t *testing.T) {
	t.Parallel()
	secret := "00112233445566778899aabbccddeeff00112233445566778899aabbccddee"
	g, _ := newGate(t, secret)

	token, err := g.ReadToken("evt-1", "file-1")
	if err != nil {
		t.Fatalf("ReadToken() error = %v", err)
	}

	r, _, err := g.Open(context.Background(), nil, "user-1", "evt-1", "file-1", token)
	if err != nil {
		t.Fatalf("Open() with valid read token error = %v", err)
	}
	r.Close()

	if _, _, err := g.Open(context.Background(), nil, "user-1", "evt-1", "file-1", "deadbeef"); !errors.Is(err, ErrForbidden) {
		t.Errorf("Open() with bad token error = %v, want ErrForbidden", err)
	}
}

func TestOpen_UnknownEventOrAttachment(t *testing.T) {
	t.Parallel()
	g, _ := newGate(t, "")
	rc := rcWithRead("diary")

	if _, _, err := g.Open(context.Background(), rc, "user-1", "missing-evt", "file-1", ""); !errors.Is(err, ErrEventNotFound) {
		t.Errorf("Open() error = %v, want ErrEventNotFound", err)
	}
	if _, _, err := g.Open(context.Background(), rc, "user-1", "evt-1", "missing-file", ""); !errors.Is(err, ErrAttachmentNotFound) {
		t.Errorf("Open() error = %v, want ErrAttachmentNotFound", err)
	}
}

func TestDigestHeader(t *testing.T) {
	t.Parallel()
	if got := DigestHeader(""); got != "" {
		t.Errorf("DigestHeader(\"\") = %q, want empty", got)
	}
	if got := DigestHeader("not-base64!!"); got != "" {
		t.Errorf("DigestHeader(invalid) = %q, want empty", got)
	}
	if got := DigestHeader("2jmj7l5rSw0yVb/vlWAYkK/YBwk="); got != "sha-256=2jmj7l5rSw0yVb/vlWAYkK/YBwk=" {
		t.Errorf("DigestHeader() = %q", got)
	}
}

func TestContentDisposition(t *testing.T) {
	t.Parallel()
	got := ContentDisposition("hello world.txt")
	if got == "" {
		t.Fatal("ContentDisposition() returned empty string")
	}
}
