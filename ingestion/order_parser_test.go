package ingestion

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleOrderBody = `Hello,

A new order has been placed.

PO Number: TEST123456
Order Type: Glitter + DTF
Requires Quality Check: Yes
Committed Shipping Date: Thursday, October 2, 2025

Delivery address:
Jordan Rivera
742 Evergreen Terrace
Springfield, OR 97477

Glitter
Total Print Length: 24.5 inches
Glitter Gang Sheet #1

DTF
Total Print Length: 98.74 inches
DTF Gang Sheet #1
DTF Gang Sheet #2
`

// dtfJobSection makes a minimal body parseable when a test only cares about
// one of the other fields.
const dtfJobSection = "Order Type: DTF\n\nDTF\nTotal Print Length: 1 inches\nDTF Gang Sheet #1\n"

func TestParseFullOrderBody(t *testing.T) {
	parsed, err := NewOrderParser().Parse(sampleOrderBody)
	require.NoError(t, err)

	require.Equal(t, "TEST123456", parsed.PONumber)
	require.Equal(t, []string{"Glitter", "DTF"}, parsed.OrderTypes)
	require.Equal(t, "Glitter + DTF", parsed.OrderType)
	require.True(t, parsed.RequiresQualityCheck)
	require.Equal(t, "Jordan Rivera", parsed.CustomerName)
	require.Equal(t, "742 Evergreen Terrace\nSpringfield, OR 97477", parsed.DeliveryAddress)
	require.NotNil(t, parsed.CommittedShippingDate)
	require.Equal(t, time.Date(2025, 10, 2, 0, 0, 0, 0, time.UTC), parsed.CommittedShippingDate.UTC())

	require.Len(t, parsed.PrintJobs, 2)
	require.Equal(t, "Glitter", parsed.PrintJobs[0].JobType)
	require.InDelta(t, 24.5, parsed.PrintJobs[0].TotalPrintLength, 0.001)
	require.Equal(t, 1, parsed.PrintJobs[0].GangSheets)
	require.Equal(t, "DTF", parsed.PrintJobs[1].JobType)
	require.InDelta(t, 98.74, parsed.PrintJobs[1].TotalPrintLength, 0.001)
	require.Equal(t, 2, parsed.PrintJobs[1].GangSheets)
}

func TestParseIsDeterministic(t *testing.T) {
	p := NewOrderParser()
	first, err := p.Parse(sampleOrderBody)
	require.NoError(t, err)
	second, err := p.Parse(sampleOrderBody)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestParseIsDeterministicWithoutShippingDate(t *testing.T) {
	body := strings.Replace(sampleOrderBody, "Committed Shipping Date: Thursday, October 2, 2025\n", "", 1)
	p := NewOrderParser()

	first, err := p.Parse(body)
	require.NoError(t, err)
	require.Nil(t, first.CommittedShippingDate)

	second, err := p.Parse(body)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestParsePONumberVariants(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"plain numeric", "PO Number: 22121\nOrder Type: DTF\n", "22121"},
		{"collapsed line", "PO Number: 22121Order Type: DTF\n", "22121"},
		{"parenthetical note", "PO Number: 1R (Replacement)\nOrder Type: DTF\n", "1R"},
		{"trailing order word", "PO Number: 22121 Order\n", "22121"},
		{"no trailing newline", "PO Number: TEST123456", "TEST123456"},
		{"lowercase label", "po number: 9981\n", "9981"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parsePONumber(tc.body)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseMissingPONumber(t *testing.T) {
	_, err := NewOrderParser().Parse("Requires Quality Check: No\n" + dtfJobSection)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, "po_number", parseErr.Field)
}

func TestParseRequiresPrintJobSection(t *testing.T) {
	body := "PO Number: TEST999\nOrder Type: Glitter\n\nDelivery address:\nJordan Rivera\n"

	_, err := NewOrderParser().Parse(body)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, "print_jobs", parseErr.Field)

	// A type line alone is not a job; the labeled section has to exist.
	_, err = NewOrderParser().Parse("PO Number: TEST999\n")
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, "print_jobs", parseErr.Field)
}

func TestParseOrderTypeFallbackLabels(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"plural label", "Order Types: DTF + Sublimation\n", "DTF + Sublimation"},
		{"bare type label", "Type: UV DTF\n", "UV DTF"},
		{"bare order label", "Order: Spangle\n", "Spangle"},
		{"no label at all", "just some text\n", "Unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, joinOrderTypes(parseOrderTypes(tc.body)))
		})
	}
}

func TestParseQualityCheckDefaultsToNo(t *testing.T) {
	require.True(t, parseQualityCheck("Requires Quality Check: Yes\n"))
	require.False(t, parseQualityCheck("Requires Quality Check: No\n"))
	require.False(t, parseQualityCheck("no quality line here\n"))
}

func TestParseAddressStripsMarkup(t *testing.T) {
	body := "Delivery address:\n*Jordan Rivera*\n<b>742 Evergreen Terrace</b>\nhttps://maps.example.com/pin\nSpringfield, OR 97477\n\nFooter\n"

	customer, address := parseDeliveryAddress(body)
	require.Equal(t, "Jordan Rivera", customer)
	require.Equal(t, "742 Evergreen Terrace\nSpringfield, OR 97477", address)
}

func TestParseAddressSingleLine(t *testing.T) {
	customer, address := parseDeliveryAddress("Delivery address:\nJordan Rivera\n")
	require.Equal(t, "Jordan Rivera", customer)
	require.Empty(t, address)
}

func TestParseShippingDateAbsentOrUnreadableIsNil(t *testing.T) {
	require.Nil(t, parseShippingDate("no date line at all\n"))
	require.Nil(t, parseShippingDate("Committed Shipping Date: sometime soon\n"))
}

func TestParseShippingDateIgnoresTrailingText(t *testing.T) {
	parsed := parseShippingDate("Committed Shipping Date: Thursday,   October 2, 2025 (estimated)\n")
	require.NotNil(t, parsed)
	require.Equal(t, time.Date(2025, 10, 2, 0, 0, 0, 0, time.UTC), parsed.UTC())
}

func TestParseSkipsUnknownPrintJobTypes(t *testing.T) {
	body := "PO Number: 1\nOrder Type: DTF + Embroidery\n\nDTF\nTotal Print Length: 10 inches\nDTF Gang Sheet #1\n"

	parsed, err := NewOrderParser().Parse(body)
	require.NoError(t, err)
	require.Len(t, parsed.PrintJobs, 1)
	require.Equal(t, "DTF", parsed.PrintJobs[0].JobType)
}

func TestBodyText(t *testing.T) {
	text, err := BodyText("plain body", "<p>html body</p>")
	require.NoError(t, err)
	require.Equal(t, "plain body", text)

	text, err = BodyText("", "<p>PO Number: 1</p>")
	require.NoError(t, err)
	require.Contains(t, text, "PO Number: 1")

	_, err = BodyText("", "")
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, "body", parseErr.Field)
}
