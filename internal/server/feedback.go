package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	feedbackdomain "github.com/smallbiznis/feedlink/internal/feedback/domain"
	"github.com/smallbiznis/feedlink/internal/qrpage"
)

type submitFeedbackRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (s *Server) SubmitFeedback(c *gin.Context) {
	var req submitFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequest("invalid_request", "request body must be JSON with a numeric rating"))
		return
	}

	// Decode with the same codec that minted the QR link.
	username, invoiceID, err := qrpage.ParseFeedbackPath(c.Request.URL.EscapedPath())
	if err != nil {
		AbortWithError(c, invalidRequest("invalid_feedback_path", "feedback path must be /feedback/{username}/{invoiceId}"))
		return
	}
	c.Set("owner", username)

	sub, err := s.feedback.Submit(c.Request.Context(), feedbackdomain.SubmitRequest{
		OwnerUsername: username,
		InvoiceID:     invoiceID,
		Rating:        req.Rating,
		Comment:       req.Comment,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sub)
}
