// Package conversion turns downloaded order files into fixed-size printable
// documents.
package conversion

import (
	"fmt"
	"log"
	"strings"

	"github.com/go-pdf/fpdf"
)

// Label stock dimensions in inches.
const (
	labelWidthIn  = 4.0
	labelHeightIn = 6.0

	// defaultTopMarginIn shifts the centered image toward the bottom edge
	// of the label. The printer feed eats roughly half an inch at the top.
	defaultTopMarginIn = -0.5
)

// ConversionError reports a failed document conversion. The original file is
// kept and the order proceeds without the converted counterpart.
type ConversionError struct {
	Source string
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %s: %v", e.Source, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// convertibleImageTypes are the raster formats the PDF writer understands.
var convertibleImageTypes = map[string]string{
	"png":  "PNG",
	"jpg":  "JPG",
	"jpeg": "JPG",
	"gif":  "GIF",
}

// LabelConverter renders gang sheet images onto 4x6 inch label PDFs.
type LabelConverter struct {
	topMarginIn float64
}

func NewLabelConverter() *LabelConverter {
	return &LabelConverter{topMarginIn: defaultTopMarginIn}
}

// IsConvertibleImage reports whether a file extension (without dot, any
// case) names an image format the converter can place on a label.
func IsConvertibleImage(ext string) bool {
	_, ok := convertibleImageTypes[strings.ToLower(ext)]
	return ok
}

// ImageToLabelPDF writes a single-page 4x6 inch PDF with the image scaled to
// fit and centered. Converting the same source twice yields documents with
// identical physical dimensions.
func (c *LabelConverter) ImageToLabelPDF(imgPath, outPath string) error {
	ext := strings.TrimPrefix(strings.ToLower(imgPath[strings.LastIndex(imgPath, ".")+1:]), ".")
	imageType, ok := convertibleImageTypes[ext]
	if !ok {
		return &ConversionError{Source: imgPath, Err: fmt.Errorf("unsupported image format %q", ext)}
	}

	pdf := fpdf.NewCustom(&fpdf.InitType{
		UnitStr: "in",
		Size:    fpdf.SizeType{Wd: labelWidthIn, Ht: labelHeightIn},
	})
	pdf.AddPage()

	opts := fpdf.ImageOptions{ImageType: imageType}
	info := pdf.RegisterImageOptions(imgPath, opts)
	if err := pdf.Error(); err != nil {
		return &ConversionError{Source: imgPath, Err: err}
	}
	imgWidth, imgHeight := info.Extent()
	if imgWidth <= 0 || imgHeight <= 0 {
		return &ConversionError{Source: imgPath, Err: fmt.Errorf("image has no extent")}
	}

	scale := labelWidthIn / imgWidth
	if vertical := labelHeightIn / imgHeight; vertical < scale {
		scale = vertical
	}
	scaledWidth := imgWidth * scale
	scaledHeight := imgHeight * scale
	x := (labelWidthIn - scaledWidth) / 2
	y := (labelHeightIn-scaledHeight)/2 - c.topMarginIn

	pdf.ImageOptions(imgPath, x, y, scaledWidth, scaledHeight, false, opts, 0, "")
	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return &ConversionError{Source: imgPath, Err: err}
	}
	log.Printf("INFO (LabelConverter): Wrote label PDF %s", outPath)
	return nil
}
