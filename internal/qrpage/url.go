package qrpage

import (
	"errors"
	"net/url"
	"strings"
)

var ErrInvalidFeedbackPath = errors.New("invalid_feedback_path")

const feedbackPrefix = "/feedback/"

// EscapeSegment percent-encodes one path segment. Spaces become %20 and '/' becomes %2F.
func EscapeSegment(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// FeedbackURL builds {baseURL}/feedback/{username}/{invoiceID} with both segments encoded.
func FeedbackURL(baseURL, username, invoiceID string) string {
	return strings.TrimRight(baseURL, "/") + feedbackPrefix + EscapeSegment(username) + "/" + EscapeSegment(invoiceID)
}

// ParseFeedbackPath reverses FeedbackURL on a raw (still encoded) request path.
func ParseFeedbackPath(rawPath string) (username, invoiceID string, err error) {
	idx := strings.Index(rawPath, feedbackPrefix)
	if idx < 0 {
		return "", "", ErrInvalidFeedbackPath
	}
	segments := strings.Split(strings.TrimSuffix(rawPath[idx+len(feedbackPrefix):], "/"), "/")
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
		return "", "", ErrInvalidFeedbackPath
	}
	if username, err = url.PathUnescape(segments[0]); err != nil {
		return "", "", ErrInvalidFeedbackPath
	}
	if invoiceID, err = url.PathUnescape(segments[1]); err != nil {
		return "", "", ErrInvalidFeedbackPath
	}
	return username, invoiceID, nil
}
