package documents

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Merger joins PDF parts into one document, keeping the given order.
type Merger interface {
	Merge(parts [][]byte) ([]byte, error)
}

var disableConfigDir sync.Once

// PDFMerger merges with pdfcpu.
type PDFMerger struct{}

// NewPDFMerger returns a merger that never touches the pdfcpu config directory.
func NewPDFMerger() PDFMerger {
	disableConfigDir.Do(api.DisableConfigDir)
	return PDFMerger{}
}

// Merge concatenates parts page by page.
func (PDFMerger) Merge(parts [][]byte) ([]byte, error) {
	switch len(parts) {
	case 0:
		return nil, fmt.Errorf("documents: nothing to merge")
	case 1:
		return parts[0], nil
	}
	readers := make([]io.ReadSeeker, 0, len(parts))
	for _, part := range parts {
		readers = append(readers, bytes.NewReader(part))
	}
	var out bytes.Buffer
	conf := model.NewDefaultConfiguration()
	if errMerge := api.MergeRaw(readers, &out, false, conf); errMerge != nil {
		return nil, fmt.Errorf("documents: merge pdf: %w", errMerge)
	}
	return out.Bytes(), nil
}
