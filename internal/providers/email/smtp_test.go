package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"strings"
	"testing"

	"github.com/smallbiznis/feedlink/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSendDocumentBuildsMultipartMessage(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  []byte
	)
	p := NewSMTP(Config{Host: "smtp.example.com", Port: 2525, From: "no-reply@feedlink.test"})
	p.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, msg
		return nil
	}

	pdf := bytes.Repeat([]byte("%PDF-1.4 "), 40)
	err := p.SendDocument(context.Background(), "ops@acme.test", "Invoice 7788", "Your invoice with feedback link.", Attachment{
		Filename:    "invoice_with_qr_7788.pdf",
		ContentType: "application/pdf",
		Data:        pdf,
	})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:2525", gotAddr)
	assert.Equal(t, []string{"ops@acme.test"}, gotTo)

	msg, err := mail.ReadMessage(bytes.NewReader(gotMsg))
	require.NoError(t, err)
	assert.Equal(t, "Invoice 7788", decodeHeader(t, msg.Header.Get("Subject")))

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", mediaType)

	r := multipart.NewReader(msg.Body, params["boundary"])
	text, err := r.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(text)
	require.NoError(t, err)
	assert.Equal(t, "Your invoice with feedback link.", string(body))

	att, err := r.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "invoice_with_qr_7788.pdf", att.FileName())
	raw, err := io.ReadAll(att)
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(raw), "\r\n", ""))
	require.NoError(t, err)
	assert.Equal(t, pdf, decoded)
}

func decodeHeader(t *testing.T, s string) string {
	t.Helper()
	out, err := new(mime.WordDecoder).DecodeHeader(s)
	require.NoError(t, err)
	return out
}

func TestSendDocumentRejectsBadRecipient(t *testing.T) {
	p := NewSMTP(Config{Host: "smtp.example.com", Port: 25})
	p.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send should not be called")
		return nil
	}

	assert.ErrorIs(t, p.SendDocument(context.Background(), " ", "s", "b", Attachment{}), ErrNoRecipient)
	assert.Error(t, p.SendDocument(context.Background(), "not-an-address", "s", "b", Attachment{}))
}

func TestNewFromConfigFallsBackToNoOp(t *testing.T) {
	_, ok := NewFromConfig(config.Config{}, zap.NewNop()).(*NoOpProvider)
	assert.True(t, ok)

	_, ok = NewFromConfig(config.Config{SMTP: config.SMTPConfig{Host: "smtp.example.com", Port: 25}}, zap.NewNop()).(*SMTPProvider)
	assert.True(t, ok)
}
