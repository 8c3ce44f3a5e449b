// Package artifactstore persists merged invoice artifacts in external blob storage.
package artifactstore

//go:generate mockgen -destination=mock/store_mock.go -package=mock github.com/smallbiznis/feedlink/internal/artifactstore Store

import (
	"context"
	"errors"
	"strings"
)

// KeyPrefix starts every artifact key.
const KeyPrefix = "invoice_with_qr_"

var (
	ErrUnavailable = errors.New("storage_unavailable")
	ErrInvalidKey  = errors.New("invalid_artifact_key")
)

type DeleteOutcome int

const (
	Deleted DeleteOutcome = iota + 1
	NotFound
)

func (o DeleteOutcome) String() string {
	switch o {
	case Deleted:
		return "deleted"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Ref identifies a stored blob. Key is the full object name used for deletion,
// URL is what the uploader retrieves the artifact from.
type Ref struct {
	Key string
	URL string
}

// Store is the blob persistence capability. Delete is idempotent: a missing
// object is reported as NotFound with a nil error. Transient failures wrap ErrUnavailable.
type Store interface {
	Put(ctx context.Context, blob []byte, folder, artifactKey string) (Ref, error)
	Delete(ctx context.Context, key string) (DeleteOutcome, error)
}

func isKeyRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.'
}

// SanitizeKey replaces every character outside [A-Za-z0-9-_.] with '_'.
func SanitizeKey(s string) string {
	return strings.Map(func(r rune) rune {
		if isKeyRune(r) {
			return r
		}
		return '_'
	}, s)
}

// ArtifactKey derives the storage key component for an invoice identifier.
func ArtifactKey(invoiceID string) string {
	return KeyPrefix + SanitizeKey(invoiceID)
}

// OwnerFolder is the folder holding an owner's artifacts. Distinct usernames
// map to distinct folders, so two owners never share an object name.
func OwnerFolder(username string) string {
	s := SanitizeKey(username)
	if s == "" || s == "." || s == ".." {
		s = "_" + s
	}
	return "invoices/" + s
}

// ObjectName joins folder and key into the stored object name.
func ObjectName(folder, artifactKey string) string {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return artifactKey + ".pdf"
	}
	return folder + "/" + artifactKey + ".pdf"
}

func validate(folder, artifactKey string) error {
	if artifactKey == "" || SanitizeKey(artifactKey) != artifactKey {
		return ErrInvalidKey
	}
	for _, seg := range strings.Split(strings.Trim(folder, "/"), "/") {
		if seg == ".." || seg == "." {
			return ErrInvalidKey
		}
	}
	return nil
}
