package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/DavidLozzi/starwars-graph/internal/crawler"
)

var whitespaceStripper = strings.NewReplacer("\n", "", "\t", "", "\r", "")

// Document extracts the primary heading and the flattened body markup of an
// HTML page. A page without #firstHeading gets crawler.NoTitle.
func Document(body []byte) (title, content string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("parse document: %w", err)
	}

	bodySel := doc.Find("body").First()
	title = crawler.NoTitle
	if heading := bodySel.Find("#firstHeading").First(); heading.Length() > 0 {
		title = strings.TrimSpace(heading.Text())
	}

	if bodySel.Length() == 0 {
		return title, "", nil
	}
	markup, err := goquery.OuterHtml(bodySel)
	if err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return title, whitespaceStripper.Replace(markup), nil
}
