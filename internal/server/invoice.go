package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/feedlink/internal/ingestion"
)

// multipartOverhead leaves room for form fields and boundaries around the file.
const multipartOverhead = 1 << 20

func (s *Server) UploadInvoice(c *gin.Context) {
	maxBytes := s.cfg.UploadMaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		if isBodyTooLarge(err) {
			AbortWithError(c, &ingestion.Error{Kind: ingestion.KindValidation, Code: ingestion.CodeDocumentTooLarge, Message: "document is too large"})
			return
		}
		AbortWithError(c, &ingestion.Error{Kind: ingestion.KindValidation, Code: ingestion.CodeDocumentRequired, Message: "a document file is required"})
		return
	}

	username := strings.TrimSpace(c.PostForm("username"))
	c.Set("owner", username)

	file, err := fileHeader.Open()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer file.Close()

	document, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	res, err := s.uploader.Upload(c.Request.Context(), ingestion.UploadRequest{
		OwnerUsername: username,
		Filename:      fileHeader.Filename,
		MimeType:      fileHeader.Header.Get("Content-Type"),
		Document:      document,
		NotifyEmail:   strings.TrimSpace(c.PostForm("notifyEmail")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func isBodyTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large")
}
