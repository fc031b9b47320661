// Package httpx holds the small pieces every gin handler shares: the error
// response shape and the caller identity set by the auth middleware.
package httpx

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"subscription-billing/internal/domain/apperr"
)

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindBusinessLogic:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindVerification:
		return http.StatusUnauthorized
	case apperr.KindAmountMismatch:
		return http.StatusUnprocessableEntity
	case apperr.KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as {"error": message, "code": code}. Causes of external
// failures stay in the logs.
func Error(c *gin.Context, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if e.Err != nil {
		_ = c.Error(err)
	}
	c.JSON(StatusFor(err), gin.H{"error": e.Message, "code": e.Code})
}

// BadRequest answers a request whose body or query could not be parsed.
func BadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
}

// UserID returns the caller identity set by the auth middleware.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get("user_id")
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// MustUserID writes a 401 and returns false when the request carries no identity.
func MustUserID(c *gin.Context) (string, bool) {
	id, ok := UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return "", false
	}
	return id, true
}

// QueryInt reads an integer query parameter, falling back to def.
func QueryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}
