package helpers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"auction-engine/internal/biddingerrors"
	"auction-engine/utils"
)

// UserIDHeader carries the caller identity; authentication is handled upstream
const UserIDHeader = "X-User-Id"

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message
func MapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "Product not found"
	case errors.Is(err, biddingerrors.ErrInvalidBid):
		return http.StatusBadRequest, "invalid bid details"
	case errors.Is(err, biddingerrors.ErrInvalidAuction):
		return http.StatusBadRequest, "invalid product details"
	case errors.Is(err, biddingerrors.ErrMissingIdentity):
		return http.StatusUnauthorized, "missing X-User-Id header"
	case errors.Is(err, biddingerrors.ErrBidTooLow):
		return http.StatusConflict, "bid amount too low"
	case errors.Is(err, biddingerrors.ErrAuctionNotActive):
		return http.StatusConflict, "auction is not open for bidding"
	case errors.Is(err, biddingerrors.ErrAuctionNotEnded):
		return http.StatusConflict, "auction has not ended yet"
	case errors.Is(err, biddingerrors.ErrSlotTaken):
		return http.StatusConflict, "A product with this start_time already exists"
	case errors.Is(err, biddingerrors.ErrUserNoBids):
		return http.StatusNotFound, "no products found for user"
	case errors.Is(err, biddingerrors.ErrRateLimited):
		return http.StatusTooManyRequests, "rate limit exceeded"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// WriteServiceError maps err, writes the error body and logs at a level that
// matches the status: 5xx as errors, everything else as warnings.
func WriteServiceError(c *gin.Context, handlerName string, err error, fields map[string]any) {
	status, message := MapErrorToHTTP(err)
	utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), DetailFor(err, message))

	if fields == nil {
		fields = map[string]any{}
	}
	fields["handler"] = handlerName
	fields["status"] = status
	fields["error"] = err.Error()
	if status >= http.StatusInternalServerError {
		utils.Error(handlerName+": request failed", fields)
		return
	}
	utils.Warn(handlerName+": request rejected", fields)
}

// DetailFor returns the user-facing detail for err. Bid rejections carry the
// amount the bidder has to beat, which the client shows verbatim.
func DetailFor(err error, fallback string) string {
	if !errors.Is(err, biddingerrors.ErrBidTooLow) {
		return fallback
	}
	if msg := innermostWithSentinel(err, biddingerrors.ErrBidTooLow); msg != "" {
		return msg
	}
	return fallback
}

// innermostWithSentinel returns the message of the deepest error in the
// chain that still wraps sentinel, with the sentinel prefix trimmed.
func innermostWithSentinel(err, sentinel error) string {
	var found string
	for e := err; e != nil && e != sentinel; e = errors.Unwrap(e) {
		if errors.Is(e, sentinel) {
			found = e.Error()
		}
	}
	return strings.TrimPrefix(found, sentinel.Error()+" - ")
}

// CallerID returns the identity from the X-User-Id header, falling back to
// fallback (typically a body field).
func CallerID(c *gin.Context, fallback string) string {
	if id := c.GetHeader(UserIDHeader); id != "" {
		return id
	}
	return fallback
}

// QueryInt reads a non-negative integer query parameter, returning def when
// it is absent or malformed.
func QueryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
