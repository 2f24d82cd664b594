package qrimage

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"strings"
	"testing"
)

func TestPNG(t *testing.T) {
	data, err := PNG("HC1:6BFOXN", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("expected a decodable PNG: %v", err)
	}
	if w := img.Bounds().Dx(); w != DefaultSize {
		t.Errorf("expected width %d, got %d", DefaultSize, w)
	}
}

func TestDataURL(t *testing.T) {
	data, err := PNG("shc:/5676", 128)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u := DataURL(data)
	prefix := "data:image/png;base64,"
	if !strings.HasPrefix(u, prefix) {
		t.Fatalf("unexpected data URL prefix: %.40s", u)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(u, prefix))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(raw, data) {
		t.Error("expected data URL to carry the PNG bytes")
	}
}

func TestPDF(t *testing.T) {
	img, err := PNG("HC1:6BFOXN", 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	doc, err := PDF("Vaccination Certificate", []string{"Name: José Pérez", "Date: 2024-01-15"}, img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.HasPrefix(doc, []byte("%PDF-")) {
		t.Errorf("expected PDF header, got %q", doc[:8])
	}
}
