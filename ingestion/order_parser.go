package ingestion

import (
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/jaytaylor/html2text"

	"github.com/printflow/printflow/ordertype"
)

// ParseError reports a message body that could not be read as an order
// notification. It is terminal for the message: the pipeline records the
// failure and never retries.
type ParseError struct {
	Field string
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse order %s: %s", e.Field, e.Msg)
}

// ParsedPrintJob is one production job line found in the order body.
type ParsedPrintJob struct {
	JobType          string
	TotalPrintLength float64
	GangSheets       int
}

// ParsedOrder holds everything the order parser could read from one
// notification body. CommittedShippingDate is nil when the body carries no
// readable date line.
type ParsedOrder struct {
	PONumber              string
	OrderTypes            []string
	OrderType             string
	RequiresQualityCheck  bool
	CustomerName          string
	DeliveryAddress       string
	CommittedShippingDate *time.Time
	PrintJobs             []ParsedPrintJob
}

var (
	poNumberRe   = regexp.MustCompile(`(?i)PO Number:\s*([^\r\n]+?)\s*(?:\r?\n|Order Type:|$)`)
	poParenRe    = regexp.MustCompile(`\(.*?\)`)
	poTrailingRe = regexp.MustCompile(`(?i)\s*Order$`)
	poTokenRe    = regexp.MustCompile(`^[A-Za-z0-9_-]+`)

	qualityCheckRe  = regexp.MustCompile(`Requires Quality Check:\s*(Yes|No)`)
	qualityLabelRe  = regexp.MustCompile(`Requires Quality Check:`)
	addressBlockRe  = regexp.MustCompile(`(?s)Delivery address:(.*?)(?:\n\n|\z)`)
	shippingDateRe  = regexp.MustCompile(`Committed Shipping Date:\s*([^\r\n]+)`)
	printLengthRe   = regexp.MustCompile(`Total Print Length:\s*([\d.]+)\s*inches`)
	emphasisRe      = regexp.MustCompile(`\*([^*]+)\*`)
	inlineTagRe     = regexp.MustCompile(`<[^>]+>`)
	inlineURLRe     = regexp.MustCompile(`https?://\S+`)
	whitespaceRunRe = regexp.MustCompile(`\s+`)
	yearPrefixRe    = regexp.MustCompile(`^(.*?\b\d{4})\b`)
	weekdayRe       = regexp.MustCompile(`^[A-Za-z]+,\s*`)
)

// orderTypeLinePatterns are tried in order; the first matching line wins.
var orderTypeLinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`Order Types?:\s*([^\r\n]+)`),
	regexp.MustCompile(`Type:\s*([^\r\n]+)`),
	regexp.MustCompile(`Order:\s*([^\r\n]+)`),
}

// OrderParser reads purchase order fields out of notification bodies.
// Parsing is pure: the same body always yields the same ParsedOrder.
type OrderParser struct{}

func NewOrderParser() *OrderParser {
	return &OrderParser{}
}

// BodyText returns the plain text to parse, preferring the text part and
// falling back to a text rendering of the HTML part.
func BodyText(textBody, htmlBody string) (string, error) {
	if strings.TrimSpace(textBody) != "" {
		return textBody, nil
	}
	if strings.TrimSpace(htmlBody) == "" {
		return "", &ParseError{Field: "body", Msg: "message has no text or HTML part"}
	}
	text, err := html2text.FromString(htmlBody, html2text.Options{TextOnly: true})
	if err != nil {
		return "", &ParseError{Field: "body", Msg: fmt.Sprintf("render HTML body: %v", err)}
	}
	return text, nil
}

// Parse extracts order fields from one plain text body. A PO number and at
// least one recognizable print-job section are hard requirements; every
// other field degrades to a benign default the way the notifications
// degrade in practice.
func (p *OrderParser) Parse(body string) (*ParsedOrder, error) {
	poNumber, err := parsePONumber(body)
	if err != nil {
		return nil, err
	}

	orderTypes := parseOrderTypes(body)
	customerName, deliveryAddress := parseDeliveryAddress(body)

	parsed := &ParsedOrder{
		PONumber:              poNumber,
		OrderTypes:            orderTypes,
		OrderType:             joinOrderTypes(orderTypes),
		RequiresQualityCheck:  parseQualityCheck(body),
		CustomerName:          customerName,
		DeliveryAddress:       deliveryAddress,
		CommittedShippingDate: parseShippingDate(body),
		PrintJobs:             parsePrintJobs(body, orderTypes),
	}
	if len(parsed.PrintJobs) == 0 {
		return nil, &ParseError{Field: "print_jobs", Msg: "no recognizable print job sections found"}
	}
	return parsed, nil
}

func parsePONumber(body string) (string, error) {
	match := poNumberRe.FindStringSubmatch(body)
	if match == nil {
		return "", &ParseError{Field: "po_number", Msg: "no PO Number line found"}
	}

	// Notifications arrive with collapsed lines ("22121Order Type: ..."),
	// parenthetical notes ("1R (Replacement)") and stray trailing words.
	raw := strings.TrimSpace(poParenRe.ReplaceAllString(match[1], ""))
	raw = strings.TrimSpace(poTrailingRe.ReplaceAllString(raw, ""))
	if token := poTokenRe.FindString(raw); token != "" {
		return token, nil
	}
	if raw == "" {
		return "", &ParseError{Field: "po_number", Msg: "PO Number line is empty"}
	}
	return raw, nil
}

func parseOrderTypes(body string) []string {
	for _, pattern := range orderTypeLinePatterns {
		match := pattern.FindStringSubmatch(body)
		if match == nil {
			continue
		}
		var types []string
		for _, part := range strings.Split(match[1], "+") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				types = append(types, trimmed)
			}
		}
		if len(types) > 0 {
			return types
		}
	}
	return nil
}

func joinOrderTypes(types []string) string {
	if len(types) == 0 {
		return "Unknown"
	}
	return strings.Join(types, " + ")
}

func parseQualityCheck(body string) bool {
	if match := qualityCheckRe.FindStringSubmatch(body); match != nil {
		return match[1] == "Yes"
	}
	if qualityLabelRe.MatchString(body) {
		log.Print("WARN (OrderParser): Quality check line present without a Yes/No value, assuming No")
	}
	return false
}

func parseDeliveryAddress(body string) (string, string) {
	match := addressBlockRe.FindStringSubmatch(body)
	if match == nil {
		return "", ""
	}

	cleaned := emphasisRe.ReplaceAllString(match[1], "$1")
	cleaned = inlineTagRe.ReplaceAllString(cleaned, "")
	cleaned = inlineURLRe.ReplaceAllString(cleaned, "")

	var lines []string
	for _, line := range strings.Split(cleaned, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	switch len(lines) {
	case 0:
		return "", ""
	case 1:
		return lines[0], ""
	default:
		return lines[0], strings.Join(lines[1:], "\n")
	}
}

// parseShippingDate reads lines like "Committed Shipping Date: Thursday,
// October 2, 2025". Anything after the four-digit year is dropped before
// parsing. An absent or unreadable date yields nil; the order lands with no
// committed date.
func parseShippingDate(body string) *time.Time {
	match := shippingDateRe.FindStringSubmatch(body)
	if match == nil {
		return nil
	}

	cleaned := strings.TrimSpace(whitespaceRunRe.ReplaceAllString(match[1], " "))
	if m := yearPrefixRe.FindStringSubmatch(cleaned); m != nil {
		cleaned = m[1]
	}
	cleaned = weekdayRe.ReplaceAllString(cleaned, "")

	parsed, err := dateparse.ParseAny(cleaned)
	if err != nil {
		log.Printf("WARN (OrderParser): Could not parse shipping date %q: %v", match[1], err)
		return nil
	}
	return &parsed
}

func parsePrintJobs(body string, orderTypes []string) []ParsedPrintJob {
	var jobs []ParsedPrintJob
	for _, label := range orderTypes {
		code := ordertype.Resolve(label)
		if code == ordertype.CodeUnknown {
			log.Printf("WARN (OrderParser): Skipping print job section for unrecognized order type %q", label)
			continue
		}
		// The section header sits on its own line; anchoring keeps the
		// "Order Type:" summary line from matching first.
		sectionRe := regexp.MustCompile(`(?sm)^` + regexp.QuoteMeta(label) + `\b.*?(?:\n\n|\z)`)
		section := sectionRe.FindString(body)
		if section == "" {
			continue
		}
		jobs = append(jobs, ParsedPrintJob{
			JobType:          ordertype.DisplayLabel(code),
			TotalPrintLength: parsePrintLength(section),
			GangSheets:       countGangSheets(section, label),
		})
	}
	return jobs
}

func parsePrintLength(section string) float64 {
	match := printLengthRe.FindStringSubmatch(section)
	if match == nil {
		return 0
	}
	length, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0
	}
	return length
}

func countGangSheets(section, label string) int {
	sheetRe := regexp.MustCompile(regexp.QuoteMeta(label) + ` Gang Sheet #\d+`)
	return len(sheetRe.FindAllString(section, -1))
}
