// Package qrpage renders the single feedback page appended to every invoice.
package qrpage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boombuler/barcode/qr"
	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

var ErrRender = errors.New("render_error")

// Heading is printed above the QR code.
const Heading = "Scan to leave feedback"

// creationDate is pinned so identical inputs produce identical documents.
var creationDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type Generator struct{}

func New() *Generator {
	return &Generator{}
}

// BuildQrPage returns a one-page PDF showing invoiceID and a QR code of feedbackURL.
func (g *Generator) BuildQrPage(invoiceID, feedbackURL string) ([]byte, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" || feedbackURL == "" {
		return nil, fmt.Errorf("%w: invoice id and feedback url are required", ErrRender)
	}

	// maroto swallows QR encoder errors, so check the payload fits first.
	if _, err := qr.Encode(feedbackURL, qr.M, qr.Auto); err != nil {
		return nil, fmt.Errorf("%w: encode qr: %v", ErrRender, err)
	}

	cfg := config.NewBuilder().
		WithCreationDate(creationDate).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(12, Heading, props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Center,
		}),
	)

	m.AddRow(12,
		text.NewCol(12, "Invoice: "+invoiceID, props.Text{
			Size:  12,
			Align: align.Center,
		}),
	)

	m.AddRow(110,
		col.New(2),
		code.NewQrCol(8, feedbackURL, props.Rect{
			Center:  true,
			Percent: 90,
		}),
		col.New(2),
	)

	m.AddRow(12,
		text.NewCol(12, feedbackURL, props.Text{
			Size:  8,
			Align: align.Center,
		}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}

	out := doc.GetBytes()
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrRender)
	}
	return out, nil
}
