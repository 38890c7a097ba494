package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kwld/twitch-service/internal/store"
)

// kind is one of the §7 error taxonomy names. Distinct from a Go error type
// hierarchy on purpose: handlers classify an error at the point they detect
// it (a validation check, a store lookup, an upstream call) rather than
// relying on sentinel wrapping all the way up the stack.
type kind string

const (
	kindAuthentication kind = "authentication_failure"
	kindAuthorization  kind = "authorization_failure"
	kindValidation     kind = "validation_failure"
	kindConflict       kind = "state_conflict"
	kindNotFound       kind = "not_found"
	kindUpstream       kind = "upstream_failure"
	kindInternal       kind = "internal_error"
)

// apiError carries a taxonomy kind and a human-readable message, mapped to
// an HTTP status by respondError. Grounded on the teacher's mapServiceError
// error-to-HTTPError translation (pkg/api/errors.go), generalized from a
// fixed sentinel list to an explicit kind field since this service's
// handlers classify failures from several unrelated packages (store,
// twitchapi, netsec, wstoken) rather than one services package.
type apiError struct {
	k   kind
	msg string
}

func (e *apiError) Error() string { return e.msg }

func newError(k kind, msg string) *apiError { return &apiError{k: k, msg: msg} }

func statusFor(k kind) int {
	switch k {
	case kindAuthentication:
		return http.StatusUnauthorized
	case kindAuthorization:
		return http.StatusForbidden
	case kindValidation:
		return http.StatusUnprocessableEntity
	case kindConflict:
		return http.StatusConflict
	case kindNotFound:
		return http.StatusNotFound
	case kindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError maps err to the §7 status code and writes a JSON body of
// {"error": "<kind>", "message": "<detail>"}. Unrecognized errors (anything
// not an *apiError or store.ErrNotFound) are logged and surfaced as a bare
// 500, never leaking internal detail to the client.
func (s *Server) respondError(c *gin.Context, err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		c.JSON(statusFor(ae.k), gin.H{"error": string(ae.k), "message": ae.msg})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": string(kindNotFound), "message": "resource not found"})
		return
	}
	if s.log != nil {
		s.log.Error("api: unhandled error", "error", err)
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": string(kindInternal), "message": "internal server error"})
}
