// Package extraction turns an uploaded document into its business identifier.
package extraction

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/smallbiznis/feedlink/internal/oracle"
)

// Instruction is sent to the oracle alongside every document.
const Instruction = "Read this document and return only the invoice number or order number as a single line of plain text. " +
	"Do not add labels, punctuation or explanation. If no such number exists, return exactly: Not Found"

// MaxIdentifierLength bounds accepted identifiers.
const MaxIdentifierLength = 128

type Kind int

const (
	KindIdentifier Kind = iota + 1
	KindNotFound
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindIdentifier:
		return "identifier"
	case KindNotFound:
		return "not_found"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	ErrEmptyDocument = errors.New("empty_document")
	ErrMultiLine     = errors.New("multi_line_output")
	ErrTooLong       = errors.New("identifier_too_long")
	ErrInvalidUTF8   = errors.New("invalid_utf8_output")
)

// Result is the tagged outcome of an extraction. Identifier is only set for KindIdentifier;
// Cause is only set for KindFailed and is meant for logs.
type Result struct {
	Kind       Kind
	Identifier string
	Cause      error
}

func Identifier(id string) Result { return Result{Kind: KindIdentifier, Identifier: id} }
func NotFound() Result            { return Result{Kind: KindNotFound} }
func Failed(cause error) Result   { return Result{Kind: KindFailed, Cause: cause} }

// Extractor resolves a document to its identifier. Implementations never return raw errors.
type Extractor interface {
	Extract(ctx context.Context, document []byte, mimeType string) Result
}

var sentinelPattern = regexp.MustCompile(`(?i)^not\s+found\.?$`)

// labelPattern matches a leading "Invoice No:" style label the oracle sometimes echoes.
var labelPattern = regexp.MustCompile(`(?i)^(?:invoice|order|receipt)(?:\s*(?:number|num|no\.?|id))?\s*[:#]\s*|^(?:invoice|order|receipt)\s+(?:number|num|no\.?|id)\s+`)

// Interpret classifies raw oracle output.
func Interpret(raw string) Result {
	if !utf8.ValidString(raw) {
		return Failed(ErrInvalidUTF8)
	}

	lines := make([]string, 0, 1)
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return NotFound()
	}
	if len(lines) > 1 {
		return Failed(ErrMultiLine)
	}

	text := strings.TrimSpace(strings.Trim(lines[0], "\"'`"))
	text = strings.TrimSpace(strings.Trim(labelPattern.ReplaceAllString(text, ""), "\"'`"))
	if text == "" || sentinelPattern.MatchString(text) {
		return NotFound()
	}
	if utf8.RuneCountInString(text) > MaxIdentifierLength {
		return Failed(ErrTooLong)
	}
	return Identifier(text)
}

// OracleExtractor delegates to the generative model.
type OracleExtractor struct {
	gen oracle.Generator
}

func NewOracleExtractor(gen oracle.Generator) *OracleExtractor {
	return &OracleExtractor{gen: gen}
}

func (e *OracleExtractor) Extract(ctx context.Context, document []byte, mimeType string) Result {
	if len(document) == 0 {
		return Failed(ErrEmptyDocument)
	}
	out, err := e.gen.GenerateContent(ctx, []oracle.Part{
		oracle.InlineData(mimeType, document),
		oracle.Text(Instruction),
	})
	if err != nil {
		return Failed(err)
	}
	return Interpret(out)
}

// Static answers every document with a fixed raw output.
type Static struct {
	Output string
	Err    error
}

func (s Static) Extract(ctx context.Context, document []byte, mimeType string) Result {
	if s.Err != nil {
		return Failed(s.Err)
	}
	if len(document) == 0 {
		return Failed(ErrEmptyDocument)
	}
	return Interpret(s.Output)
}
