package ingestion

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/printflow/printflow/ordertype"
)

const defaultAncestorDepth = 5

var sheetNumberRe = regexp.MustCompile(`(?i)Gang Sheet #?(\d+)`)

// DownloadLink is one download anchor found in an HTML body, together with
// the classification derived from its surrounding text. Links the classifier
// could not resolve are still returned; the pipeline decides what to do with
// them.
type DownloadLink struct {
	URL         string
	LinkText    string
	Context     string
	TypeCode    ordertype.Code
	SheetNumber int
	Resolved    bool
}

// LinkExtractor finds download anchors in HTML bodies and classifies each by
// the print process it belongs to.
type LinkExtractor struct {
	ancestorDepth int
}

// NewLinkExtractor builds an extractor that gathers classification context by
// walking up to ancestorDepth parent elements above each anchor. Zero or
// negative means the default depth.
func NewLinkExtractor(ancestorDepth int) *LinkExtractor {
	if ancestorDepth <= 0 {
		ancestorDepth = defaultAncestorDepth
	}
	return &LinkExtractor{ancestorDepth: ancestorDepth}
}

// Extract returns every anchor whose visible text mentions "download", in
// document order.
func (le *LinkExtractor) Extract(htmlContent string) ([]DownloadLink, error) {
	if strings.TrimSpace(htmlContent) == "" {
		return nil, nil
	}
	root, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("parse HTML body: %w", err)
	}

	var links []DownloadLink
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if link, ok := le.downloadLink(n); ok {
				links = append(links, link)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)
	return links, nil
}

func (le *LinkExtractor) downloadLink(anchor *html.Node) (DownloadLink, bool) {
	href := attrValue(anchor, "href")
	if href == "" {
		return DownloadLink{}, false
	}
	linkText := nodeText(anchor)
	if !strings.Contains(strings.ToLower(linkText), "download") {
		return DownloadLink{}, false
	}

	context := le.ancestorContext(anchor)
	link := DownloadLink{
		URL:         href,
		LinkText:    linkText,
		Context:     context,
		SheetNumber: 1,
	}

	classified := context + " " + linkText
	if match := sheetNumberRe.FindStringSubmatch(classified); match != nil {
		if n, err := strconv.Atoi(match[1]); err == nil {
			link.SheetNumber = n
		}
	}
	link.TypeCode, link.Resolved = ordertype.DetectInText(classified)
	return link, true
}

// ancestorContext walks up the tree and returns the rendered text of the
// highest ancestor within reach. Sender templates nest each download button a
// few levels below the block that names the print type and sheet number, so
// the widest subtree in range carries the classification signal.
func (le *LinkExtractor) ancestorContext(anchor *html.Node) string {
	context := ""
	node := anchor.Parent
	for i := 0; i < le.ancestorDepth && node != nil; i++ {
		if node.Type == html.ElementNode {
			context = nodeText(node)
		}
		node = node.Parent
	}
	return context
}

func attrValue(n *html.Node, name string) string {
	for _, attr := range n.Attr {
		if attr.Key == name {
			return attr.Val
		}
	}
	return ""
}

// nodeText concatenates the text content of a subtree, collapsing whitespace
// runs the way a browser renders them.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return strings.TrimSpace(whitespaceRunRe.ReplaceAllString(sb.String(), " "))
}
