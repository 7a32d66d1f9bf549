package conversion

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/printflow/printflow/models"
)

var mediaBoxRe = regexp.MustCompile(`/MediaBox \[0 0 ([\d.]+) ([\d.]+)\]`)

func writeTestPNG(t *testing.T, dir string, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	path := filepath.Join(dir, "sheet.png")
	out, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(out, img))
	require.NoError(t, out.Close())
	return path
}

func TestImageToLabelPDFProducesLabelPage(t *testing.T) {
	dir := t.TempDir()
	imgPath := writeTestPNG(t, dir, 400, 300)
	outPath := filepath.Join(dir, "sheet_label.pdf")

	require.NoError(t, NewLabelConverter().ImageToLabelPDF(imgPath, outPath))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	match := mediaBoxRe.FindStringSubmatch(string(data))
	require.NotNil(t, match, "label PDF missing its page media box")
	require.Equal(t, "288.00", match[1])
	require.Equal(t, "432.00", match[2])
}

func TestImageToLabelPDFIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	imgPath := writeTestPNG(t, dir, 120, 500)
	converter := NewLabelConverter()

	firstPath := filepath.Join(dir, "first.pdf")
	secondPath := filepath.Join(dir, "second.pdf")
	require.NoError(t, converter.ImageToLabelPDF(imgPath, firstPath))
	require.NoError(t, converter.ImageToLabelPDF(imgPath, secondPath))

	first, err := os.ReadFile(firstPath)
	require.NoError(t, err)
	second, err := os.ReadFile(secondPath)
	require.NoError(t, err)
	require.Equal(t, mediaBoxRe.FindStringSubmatch(string(first)), mediaBoxRe.FindStringSubmatch(string(second)))
}

func TestImageToLabelPDFRejectsUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "sheet.bmp")
	require.NoError(t, os.WriteFile(srcPath, []byte("BMdata"), 0o644))

	err := NewLabelConverter().ImageToLabelPDF(srcPath, filepath.Join(dir, "out.pdf"))
	var convErr *ConversionError
	require.ErrorAs(t, err, &convErr)
	require.Equal(t, srcPath, convErr.Source)
}

func TestIsConvertibleImage(t *testing.T) {
	require.True(t, IsConvertibleImage("png"))
	require.True(t, IsConvertibleImage("JPG"))
	require.True(t, IsConvertibleImage("jpeg"))
	require.True(t, IsConvertibleImage("gif"))
	require.False(t, IsConvertibleImage("pdf"))
	require.False(t, IsConvertibleImage("bmp"))
	require.False(t, IsConvertibleImage(""))
}

func TestBodyDocumentWriter(t *testing.T) {
	dir := t.TempDir()
	shipping := time.Date(2025, 10, 2, 0, 0, 0, 0, time.UTC)
	order := &models.Order{
		PONumber:              "TEST123456",
		OrderType:             "Glitter + DTF",
		CustomerName:          "Jordan Rivera",
		DeliveryAddress:       "742 Evergreen Terrace\nSpringfield, OR 97477",
		CommittedShippingDate: &shipping,
	}
	outPath := filepath.Join(dir, "TEST123456_email_body.pdf")

	err := NewBodyDocumentWriter().Write(order, "PO Number: TEST123456\nOrder Type: Glitter + DTF\n", outPath)
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.True(t, len(data) > 0)
	match := mediaBoxRe.FindStringSubmatch(string(data))
	require.NotNil(t, match)
	require.Equal(t, "612.00", match[1])
	require.Equal(t, "792.00", match[2])
}
