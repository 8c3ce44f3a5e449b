package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	coupondomain "github.com/smallbiznis/feedlink/internal/coupon/domain"
	feedbackdomain "github.com/smallbiznis/feedlink/internal/feedback/domain"
	"github.com/smallbiznis/feedlink/internal/ingestion"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var (
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, payload)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

type requestError struct {
	code    string
	message string
}

func (e *requestError) Error() string { return e.code + ": " + e.message }
func (e *requestError) Unwrap() error { return ErrInvalidRequest }

func invalidRequest(code, message string) error {
	return &requestError{code: code, message: message}
}

// mapError is the single place errors become HTTP statuses. Only curated
// messages reach the client.
func mapError(err error) (int, errorResponse) {
	if e, ok := ingestion.AsError(err); ok {
		return ingestionStatus(e), errorResponse{Error: e.Message, Code: e.Code}
	}

	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest, errorResponse{Error: reqErr.message, Code: reqErr.code}
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorResponse{Error: "too many requests", Code: "rate_limited"}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorResponse{Error: "service unavailable", Code: "service_unavailable"}

	case errors.Is(err, feedbackdomain.ErrInvalidRating):
		return http.StatusBadRequest, errorResponse{Error: "rating must be between 1 and 5", Code: "invalid_rating"}
	case errors.Is(err, feedbackdomain.ErrCommentTooLong):
		return http.StatusBadRequest, errorResponse{Error: "comment is too long", Code: "comment_too_long"}
	case errors.Is(err, feedbackdomain.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: "invoice not found", Code: "invoice_not_found"}
	case errors.Is(err, feedbackdomain.ErrAlreadySubmitted):
		return http.StatusConflict, errorResponse{Error: "feedback was already submitted for this invoice", Code: "feedback_already_submitted"}

	case errors.Is(err, coupondomain.ErrInvalidCode):
		return http.StatusBadRequest, errorResponse{Error: "coupon code must be 3-32 letters, digits, dashes or underscores", Code: "invalid_coupon_code"}
	case errors.Is(err, coupondomain.ErrInvalidExpiry):
		return http.StatusBadRequest, errorResponse{Error: "coupon expiry must be in the future", Code: "invalid_coupon_expiry"}
	case errors.Is(err, coupondomain.ErrDescriptionTooLong):
		return http.StatusBadRequest, errorResponse{Error: "coupon description is too long", Code: "coupon_description_too_long"}
	case errors.Is(err, coupondomain.ErrHintTooLong):
		return http.StatusBadRequest, errorResponse{Error: "hint is too long", Code: "coupon_hint_too_long"}
	case errors.Is(err, coupondomain.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: "invoice not found", Code: "invoice_not_found"}
	case errors.Is(err, coupondomain.ErrAIQuotaExceeded):
		return http.StatusTooManyRequests, errorResponse{Error: "AI suggestions are used up for this invoice", Code: "ai_quota_exceeded"}
	case errors.Is(err, coupondomain.ErrSuggestionFailed):
		return http.StatusBadGateway, errorResponse{Error: "could not generate a suggestion, please retry", Code: "suggestion_failed"}
	}

	return http.StatusInternalServerError, errorResponse{Error: "internal server error", Code: "internal_error"}
}

func ingestionStatus(e *ingestion.Error) int {
	switch e.Kind {
	case ingestion.KindValidation:
		if e.Code == ingestion.CodeDocumentTooLarge {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case ingestion.KindOwnerNotFound:
		return http.StatusNotFound
	case ingestion.KindExtraction:
		if e.Code == ingestion.CodeIdentifierNotFound {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	case ingestion.KindConflict:
		return http.StatusConflict
	case ingestion.KindQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error", payload.Code
	default:
		return "client_error", payload.Code
	}
}
