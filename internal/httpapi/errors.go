package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"meetsync/internal/inbox"
	"meetsync/internal/model"
)

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func statusOf(err error) int {
	var (
		verr *model.ValidationError
		terr *model.InvalidTransitionError
		cerr *model.ConfirmationError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &terr):
		return http.StatusConflict
	case errors.As(err, &cerr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidCode):
		return http.StatusForbidden
	case errors.Is(err, inbox.ErrHubFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	status := statusOf(err)
	body := errorBody{Error: err.Error()}
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		body.Field = verr.Field
	}
	if status == http.StatusInternalServerError {
		body.Error = "internal error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	fail(c, &model.ValidationError{Reason: "malformed body: " + err.Error()})
}
