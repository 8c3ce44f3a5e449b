package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	coupondomain "github.com/smallbiznis/feedlink/internal/coupon/domain"
)

type attachCouponRequest struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	ExpiryDate  string `json:"expiryDate"`
	IsUsed      bool   `json:"isUsed"`
}

type suggestCouponRequest struct {
	Hint string `json:"hint"`
}

func (s *Server) AttachCoupon(c *gin.Context) {
	var req attachCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequest("invalid_request", "request body must be JSON"))
		return
	}

	expiry, ok := parseExpiry(req.ExpiryDate)
	if !ok {
		AbortWithError(c, coupondomain.ErrInvalidExpiry)
		return
	}

	username := c.Param("username")
	c.Set("owner", username)

	coupon, err := s.coupons.Attach(c.Request.Context(), coupondomain.AttachRequest{
		OwnerUsername: username,
		InvoiceID:     c.Param("invoiceId"),
		Code:          req.Code,
		Description:   req.Description,
		ExpiryDate:    expiry,
		IsUsed:        req.IsUsed,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, coupon)
}

func (s *Server) SuggestCouponDescription(c *gin.Context) {
	var req suggestCouponRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequest("invalid_request", "request body must be JSON"))
			return
		}
	}

	username := c.Param("username")
	c.Set("owner", username)

	suggestion, err := s.coupons.SuggestDescription(c.Request.Context(), coupondomain.SuggestRequest{
		OwnerUsername: username,
		InvoiceID:     c.Param("invoiceId"),
		Hint:          req.Hint,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, suggestion)
}

// parseExpiry accepts RFC 3339 timestamps or plain dates, which expire at the end of that UTC day.
func parseExpiry(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true
	}
	if d, err := time.Parse(time.DateOnly, raw); err == nil {
		return d.Add(24*time.Hour - time.Second), true
	}
	return time.Time{}, false
}
