package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// maxPDFPages bounds the number of pages sent for analysis from a single upload
const maxPDFPages = 10

// pdfToImages renders each PDF page to a PNG image, in page order
func pdfToImages(pdfData []byte) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	if pageCount > maxPDFPages {
		pageCount = maxPDFPages
	}

	pages := make([][]byte, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		img, err := doc.ImageDPI(i, 300)
		if err != nil {
			return nil, fmt.Errorf("rendering PDF page %d: %w", i+1, err)
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encoding PNG for page %d: %w", i+1, err)
		}
		pages = append(pages, buf.Bytes())
	}

	return pages, nil
}

// imageToPNG re-encodes a single image as PNG. HEIC needs its own decoder
// since the image package cannot read it.
func imageToPNG(data []byte, heicInput bool) ([]byte, error) {
	var (
		img image.Image
		err error
	)
	if heicInput {
		if img, err = heic.Decode(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("decoding HEIC image: %w", err)
		}
	} else if img, _, err = image.Decode(bytes.NewReader(data)); err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("unsupported image format (want JPEG, PNG, GIF, HEIC or PDF): %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// heicBrands are the ftyp major brands written by HEIC/HEIF encoders
var heicBrands = map[string]bool{"heic": true, "heix": true, "heif": true, "mif1": true, "msf1": true}

// hasHEICSignature reports an ISO BMFF ftyp box carrying a HEIC brand
func hasHEICSignature(data []byte) bool {
	return len(data) >= 12 && string(data[4:8]) == "ftyp" && heicBrands[string(data[8:12])]
}

// preparePages turns an upload into the page images sent for analysis.
// JPEG and PNG pass through untouched; PDFs yield one PNG per page.
// Phones often label HEIC files as JPEG, so the signature wins over the
// declared type.
func preparePages(data []byte, contentType string) ([][]byte, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	heicInput := hasHEICSignature(data) || strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")

	switch {
	case mimeType == "application/pdf":
		pages, err := pdfToImages(data)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to images: %w", err)
		}
		return pages, nil
	case heicInput:
	case mimeType == "image/jpeg" || mimeType == "image/jpg" || mimeType == "image/png":
		return [][]byte{data}, nil
	}

	page, err := imageToPNG(data, heicInput)
	if err != nil {
		return nil, fmt.Errorf("converting image to PNG: %w", err)
	}
	return [][]byte{page}, nil
}
