package httputil

import (
	"encoding/json"

	"github.com/gofiber/fiber/v3"

	"github.com/pryv-io/core/internal/apierrors"
)

// Meta carries the envelope metadata every successful response includes.
type Meta struct {
	APIVersion string `json:"apiVersion"`
	ServerTime int64  `json:"serverTime"`
}

// ErrorBody holds structured error details.
type ErrorBody struct {
	ID      apierrors.Kind `json:"id"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
}

// ErrorResponse wraps failed API responses.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// apiVersion is stamped into every success envelope's meta block.
const apiVersion = "1.9.0"

// Envelope wraps a named resource plus the meta block, matching `{ <resourceName>: …, meta: {…} }`.
func Envelope(now int64, resourceName string, resource any) map[string]any {
	return map[string]any{
		resourceName: resource,
		"meta": Meta{
			APIVersion: apiVersion,
			ServerTime: now,
		},
	}
}

// Success sends a 200 JSON response with the given named resource.
func Success(c fiber.Ctx, now int64, resourceName string, resource any) error {
	return c.JSON(Envelope(now, resourceName, resource))
}

// SuccessStatus sends a JSON response with a custom status code.
func SuccessStatus(c fiber.Ctx, status int, now int64, resourceName string, resource any) error {
	return c.Status(status).JSON(Envelope(now, resourceName, resource))
}

// StreamArray writes {resourceName: [...], meta: {...}} item-by-item onto the response's body writer instead of
// building the slice into one json.Marshal call first, per design notes §9 ("the implementation must not buffer
// the full array before writing") — the same "write directly to the response writer, never buffer the whole
// payload" idiom the attachment download handler already uses for file bodies.
func StreamArray(c fiber.Ctx, status int, now int64, resourceName string, count int, item func(i int) any) error {
	c.Status(status)
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	w := c.Response().BodyWriter()

	if _, err := w.Write([]byte(`{"` + resourceName + `":[`)); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for i := 0; i < count; i++ {
		if i > 0 {
			if _, err := w.Write([]byte(",")); err != nil {
				return err
			}
		}
		if err := enc.Encode(item(i)); err != nil {
			return err
		}
	}

	metaBytes, err := json.Marshal(Meta{APIVersion: apiVersion, ServerTime: now})
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(`],"meta":`)); err != nil {
		return err
	}
	_, err = w.Write(append(metaBytes, '}'))
	return err
}

// Fail sends a JSON error response built from an *apierrors.APIError.
func Fail(c fiber.Ctx, err *apierrors.APIError) error {
	return c.Status(err.HTTPStatus).JSON(ErrorResponse{
		Error: ErrorBody{ID: err.ID, Message: err.Message, Data: err.Data},
	})
}
