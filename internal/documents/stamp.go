package documents

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// stampDescription places the stamp in the bottom-right corner, about a third of the page wide.
const stampDescription = "pos:br, off:-15 15, scale:.34 rel, rot:0, op:1"

// Stamper marks a finished PDF.
type Stamper interface {
	Stamp(pdf []byte) ([]byte, error)
}

// PDFStamper puts an image on the last page with pdfcpu.
type PDFStamper struct {
	image []byte
}

// NewPDFStamper returns a stamper for a PNG or JPEG image.
func NewPDFStamper(img []byte) (*PDFStamper, error) {
	if _, _, errDecode := image.DecodeConfig(bytes.NewReader(img)); errDecode != nil {
		return nil, fmt.Errorf("documents: stamp image: %w", errDecode)
	}
	disableConfigDir.Do(api.DisableConfigDir)
	return &PDFStamper{image: img}, nil
}

// LoadPDFStamper reads the stamp image at path.
func LoadPDFStamper(path string) (*PDFStamper, error) {
	img, errRead := os.ReadFile(path)
	if errRead != nil {
		return nil, fmt.Errorf("documents: read stamp %s: %w", path, errRead)
	}
	return NewPDFStamper(img)
}

// Stamp returns pdf with the image drawn over its last page.
func (s *PDFStamper) Stamp(pdf []byte) ([]byte, error) {
	watermark, errWatermark := api.ImageWatermarkForReader(bytes.NewReader(s.image), stampDescription, true, false, types.POINTS)
	if errWatermark != nil {
		return nil, fmt.Errorf("documents: stamp image: %w", errWatermark)
	}
	var out bytes.Buffer
	if errStamp := api.AddWatermarks(bytes.NewReader(pdf), &out, []string{"l"}, watermark, model.NewDefaultConfiguration()); errStamp != nil {
		return nil, fmt.Errorf("documents: stamp pdf: %w", errStamp)
	}
	return out.Bytes(), nil
}
