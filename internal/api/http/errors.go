package http

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	fkerrors "github.com/arkilian/framekit/internal/errors"
)

// StatusForError maps a structured error to an HTTP status code.
func StatusForError(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}

	switch fkerrors.GetCode(err) {
	case fkerrors.CodePipelineNotFound, fkerrors.CodeObjectNotFound:
		return http.StatusNotFound
	case fkerrors.CodeWriteConflict:
		return http.StatusConflict
	case fkerrors.CodeStepFailed:
		return http.StatusUnprocessableEntity
	case fkerrors.CodeCancelled:
		return http.StatusRequestTimeout
	}

	switch fkerrors.GetCategory(err) {
	case fkerrors.ErrCategoryValidation:
		return http.StatusBadRequest
	case fkerrors.ErrCategoryStorage:
		if fkerrors.IsRetryable(err) {
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}

// writeError writes err as an ErrorResponse. Internal failures are logged and
// their details withheld from the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusForError(err)
	requestID := GetRequestID(r.Context())

	code := fkerrors.GetCode(err)
	message := err.Error()
	if status == http.StatusRequestEntityTooLarge {
		code = fkerrors.CodeInvalidRequest
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", requestID),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		message = "internal server error"
		if code == "" {
			code = fkerrors.CodeUnexpected
		}
	}

	writeJSON(w, status, ErrorResponse{Error: message, Code: code, RequestID: requestID})
}
