// Package qrimage renders certificate QR payloads as PNG images and printable
// PDF documents.
package qrimage

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/skip2/go-qrcode"
)

// DefaultSize is the PNG edge length in pixels.
const DefaultSize = 512

const (
	ContentTypePNG = "image/png"
	ContentTypePDF = "application/pdf"
)

// PNG encodes content as a QR code image. A non-positive size uses
// DefaultSize.
func PNG(content string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultSize
	}
	img, err := qrcode.Encode(content, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render QR: %w", err)
	}
	return img, nil
}

// DataURL wraps a PNG in a data: URL.
func DataURL(png []byte) string {
	return "data:" + ContentTypePNG + ";base64," + base64.StdEncoding.EncodeToString(png)
}

// PDF lays out a single A4 page with a title, text lines and the QR image
// centred below them.
func PDF(title string, lines []string, png []byte) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle(title, true)
	doc.AddPage()

	tr := doc.UnicodeTranslatorFromDescriptor("")

	doc.SetFont("Helvetica", "B", 16)
	doc.CellFormat(0, 10, tr(title), "", 1, "C", false, 0, "")
	doc.Ln(4)

	doc.SetFont("Helvetica", "", 11)
	for _, line := range lines {
		doc.CellFormat(0, 7, tr(line), "", 1, "L", false, 0, "")
	}
	doc.Ln(6)

	if len(png) > 0 {
		opts := fpdf.ImageOptions{ImageType: "PNG"}
		doc.RegisterImageOptionsReader("qr", opts, bytes.NewReader(png))
		const edge = 90.0
		pageW, _ := doc.GetPageSize()
		doc.ImageOptions("qr", (pageW-edge)/2, doc.GetY(), edge, edge, false, opts, 0, "")
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("render PDF: %w", err)
	}
	return buf.Bytes(), nil
}
