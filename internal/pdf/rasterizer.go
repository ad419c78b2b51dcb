package pdf

import (
	"image"

	"github.com/gen2brain/go-fitz"
)

// Document 是一份已打开、可逐页栅格化的 PDF。
type Document interface {
	NumPages() int
	Image(index int) (image.Image, error)
	Close() error
}

// Rasterizer 打开 PDF 文件。抽象出来是为了让测试不依赖真实的 MuPDF。
type Rasterizer interface {
	Open(path string) (Document, error)
}

// DefaultDPI 是拆页时的固定栅格化精度。
const DefaultDPI = 150

type fitzRasterizer struct {
	dpi float64
}

// NewFitzRasterizer returns the MuPDF-backed rasterizer used in production.
func NewFitzRasterizer(dpi float64) Rasterizer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &fitzRasterizer{dpi: dpi}
}

func (r *fitzRasterizer) Open(path string) (Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return &fitzDocument{doc: doc, dpi: r.dpi}, nil
}

type fitzDocument struct {
	doc *fitz.Document
	dpi float64
}

func (d *fitzDocument) NumPages() int {
	return d.doc.NumPage()
}

func (d *fitzDocument) Image(index int) (image.Image, error) {
	return d.doc.ImageDPI(index, d.dpi)
}

func (d *fitzDocument) Close() error {
	return d.doc.Close()
}
