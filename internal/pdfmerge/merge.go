// Package pdfmerge concatenates PDF documents.
package pdfmerge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var ErrMerge = errors.New("merge_error")

var disableConfigDir sync.Once

// Engine is safe for concurrent use; every call gets its own pdfcpu configuration
// because pdfcpu records the running command on it.
type Engine struct{}

func New() *Engine {
	disableConfigDir.Do(api.DisableConfigDir)
	return &Engine{}
}

func newConf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Merge returns all pages of primary followed by all pages of secondary.
// Inputs are only read.
func (e *Engine) Merge(primary, secondary []byte) ([]byte, error) {
	primaryPages, err := e.PageCount(primary)
	if err != nil {
		return nil, fmt.Errorf("%w: primary: %v", ErrMerge, err)
	}
	secondaryPages, err := e.PageCount(secondary)
	if err != nil {
		return nil, fmt.Errorf("%w: secondary: %v", ErrMerge, err)
	}

	var out bytes.Buffer
	inputs := []io.ReadSeeker{bytes.NewReader(primary), bytes.NewReader(secondary)}
	if err := api.MergeRaw(inputs, &out, false, newConf()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMerge, err)
	}

	merged := out.Bytes()
	got, err := e.PageCount(merged)
	if err != nil {
		return nil, fmt.Errorf("%w: result: %v", ErrMerge, err)
	}
	if got != primaryPages+secondaryPages {
		return nil, fmt.Errorf("%w: expected %d pages, got %d", ErrMerge, primaryPages+secondaryPages, got)
	}
	return merged, nil
}

// PageCount validates doc and returns its number of pages.
func (e *Engine) PageCount(doc []byte) (int, error) {
	if len(doc) == 0 {
		return 0, errors.New("empty document")
	}
	n, err := api.PageCount(bytes.NewReader(doc), newConf())
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, errors.New("document has no pages")
	}
	return n, nil
}
