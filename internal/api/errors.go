package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/logline/internal/trust"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
	"github.com/jmerrifield20/logline/pkg/signature"
)

// StatusFor maps an error to the HTTP status the API answers with.
func StatusFor(err error) int {
	var authz *ledgererr.AuthorizationError
	switch {
	case errors.As(err, &authz):
		return http.StatusForbidden
	case errors.Is(err, signature.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, trust.ErrUnknownKey):
		return http.StatusNotFound
	}
	switch ledgererr.KindOf(err) {
	case ledgererr.KindInvalidInput:
		return http.StatusBadRequest
	case ledgererr.KindUnauthorized:
		return http.StatusUnauthorized
	case ledgererr.KindTampered:
		return http.StatusUnprocessableEntity
	case ledgererr.KindConflict:
		return http.StatusConflict
	case ledgererr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string   `json:"error"`
	Kind    string   `json:"kind"`
	Reasons []string `json:"reasons,omitempty"`
}

// writeError answers with the mapped status. Storage and unknown failures
// are logged and their detail withheld from the client.
func (h *Handler) writeError(c *gin.Context, op string, err error) {
	status := StatusFor(err)
	body := errorBody{Error: err.Error(), Kind: ledgererr.KindOf(err).String()}

	var verr *ledgererr.ValidationError
	if errors.As(err, &verr) {
		body.Reasons = verr.Reasons
	}
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" failed", requestIDField(c), zap.Error(err))
		body.Error = op + " failed"
	}
	c.JSON(status, body)
}

// badRequest answers 400 for malformed query parameters.
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorBody{Error: msg, Kind: ledgererr.KindInvalidInput.String()})
}
