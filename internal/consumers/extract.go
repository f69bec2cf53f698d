package consumers

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractText returns the visible body text of an HTML document with
// whitespace runs collapsed.
func ExtractText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, iframe, template").Remove()

	var sb strings.Builder
	doc.Find("body").Each(func(_ int, s *goquery.Selection) {
		sb.WriteString(s.Text())
		sb.WriteByte(' ')
	})

	return strings.Join(strings.Fields(sb.String()), " ")
}

// invoiceTotal reads the amount marked with data-invoice-total, if present.
func invoiceTotal(doc *goquery.Document) (string, bool) {
	sel := doc.Find("[data-invoice-total]").First()
	if sel.Length() == 0 {
		return "", false
	}
	if v, ok := sel.Attr("data-invoice-total"); ok && v != "" {
		return v, true
	}
	v := strings.TrimSpace(sel.Text())
	return v, v != ""
}
