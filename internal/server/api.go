package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/menta2k/brandimage/pkg/types"
)

// errorCodes maps sentinel errors to a status and a stable machine code.
// Order matters: the first match wins.
var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{types.ErrInvalidFileType, http.StatusUnsupportedMediaType, "invalid_file_type"},
	{types.ErrInputTooLarge, http.StatusRequestEntityTooLarge, "input_too_large"},
	{types.ErrEmptyInput, http.StatusBadRequest, "empty_input"},
	{types.ErrUnknownKind, http.StatusBadRequest, "unknown_kind"},
	{types.ErrInvalidEntityKey, http.StatusBadRequest, "invalid_entity_key"},
	{types.ErrInvalidCrop, http.StatusBadRequest, "invalid_crop"},
	{types.ErrDecode, http.StatusBadRequest, "decode_failed"},
	{types.ErrImageTooSmall, http.StatusUnprocessableEntity, "image_too_small"},
	{types.ErrImageTooLargeAfterOptimization, http.StatusUnprocessableEntity, "too_large_after_optimization"},
	{types.ErrUploadFailed, http.StatusBadGateway, "upload_failed"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
}

// StatusOf returns the HTTP status and error code for err.
func StatusOf(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, "input_too_large"
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// Error writes a JSON error response with the status derived from err:
//
//	{"error": "invalid file type: image/gif", "code": "invalid_file_type"}
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusOf(err)
	ErrorStatus(w, r, status, code, err)
}

// ErrorStatus writes a JSON error response with an explicit status.
func ErrorStatus(w http.ResponseWriter, r *http.Request, status int, code string, err error) {
	var msg string
	if err != nil {
		msg = err.Error()
	}
	render.Status(r, status)
	render.JSON(w, r, map[string]any{"error": msg, "code": code})
}

// JSON writes v with status.
func JSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	if status != 0 {
		render.Status(r, status)
	}
	render.JSON(w, r, v)
}
