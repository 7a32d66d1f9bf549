package conversion

import (
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/microcosm-cc/bluemonday"

	"github.com/printflow/printflow/models"
)

// BodyDocumentWriter renders the order email body as a letter-size PDF so
// the production floor has a printable copy of the original order details.
type BodyDocumentWriter struct {
	stripPolicy *bluemonday.Policy
}

func NewBodyDocumentWriter() *BodyDocumentWriter {
	return &BodyDocumentWriter{stripPolicy: bluemonday.StrictPolicy()}
}

// Write produces a PDF with an order summary header followed by the message
// body. Any markup left in the body text is stripped before rendering.
func (w *BodyDocumentWriter) Write(order *models.Order, bodyText, outPath string) error {
	pdf := fpdf.New("P", "in", "Letter", "")
	pdf.SetMargins(0.75, 0.75, 0.75)
	pdf.SetAutoPageBreak(true, 0.75)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.MultiCell(0, 0.3, fmt.Sprintf("Order Details - %s", order.PONumber), "", "L", false)
	pdf.Ln(0.1)

	pdf.SetFont("Helvetica", "", 11)
	summary := []string{
		fmt.Sprintf("Customer: %s", order.CustomerName),
		fmt.Sprintf("Order Type: %s", order.OrderType),
		fmt.Sprintf("Quality Check Required: %s", yesNo(order.RequiresQualityCheck)),
	}
	if order.CommittedShippingDate != nil {
		summary = append(summary, fmt.Sprintf("Shipping Date: %s", order.CommittedShippingDate.Format("Monday, January 2, 2006")))
	}
	if order.DeliveryAddress != "" {
		summary = append(summary, "Delivery Address:", order.DeliveryAddress)
	}
	for _, line := range summary {
		pdf.MultiCell(0, 0.22, line, "", "L", false)
	}

	pdf.Ln(0.2)
	pdf.SetFont("Helvetica", "B", 13)
	pdf.MultiCell(0, 0.25, "Email Content", "", "L", false)
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 0.18, trimToPrintable(w.stripPolicy.Sanitize(bodyText)), "", "L", false)

	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return &ConversionError{Source: "email body for " + order.PONumber, Err: err}
	}
	return nil
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

// trimToPrintable drops control characters the core PDF fonts cannot encode.
func trimToPrintable(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r >= 0x20 {
			return r
		}
		return -1
	}, s)
}
