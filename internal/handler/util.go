package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	apperrors "github.com/capitalize-ai/chatsync/pkg/errors"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

const maxBodyBytes = 1 << 20

var validate = validator.New()

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the JSON error response.
type errorBody struct {
	Error string         `json:"error"`
	Code  apperrors.Kind `json:"code,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindNotAuthenticated:
		return http.StatusUnauthorized
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindNotAuthorized:
		return http.StatusForbidden
	case apperrors.KindSelfReference, apperrors.KindNotFriends, apperrors.KindEmptyContent, apperrors.KindInvalidArgument:
		return http.StatusBadRequest
	case apperrors.KindDuplicateRequest:
		return http.StatusConflict
	case apperrors.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeAppError writes err with the status of its kind. Unclassified errors are logged
// and reported without detail.
func writeAppError(w http.ResponseWriter, log *logger.Logger, err error) {
	kind := apperrors.KindOf(err)
	status := statusFor(kind)

	var appErr *apperrors.AppError
	if status == http.StatusInternalServerError || !errors.As(err, &appErr) {
		log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	if status == http.StatusServiceUnavailable {
		log.Warn("dependency unavailable", zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: appErr.Message, Code: kind})
}

// decode reads a JSON body into dst and validates it.
func decode(r *http.Request, dst interface{}) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.InvalidArg("request body is empty")
		}
		return apperrors.InvalidArg("invalid request body")
	}

	if err := validate.Struct(dst); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) {
			first := vErrs[0]
			return apperrors.InvalidArg(fmt.Sprintf("field %s failed rule %s", first.Field(), first.Tag()))
		}
		return apperrors.InvalidArg(err.Error())
	}
	return nil
}
