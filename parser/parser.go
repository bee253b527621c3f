// Package parser extracts listing records from search result markup.
package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-books-etl/models"
)

// Selectors for the search results layout.
const (
	ItemSelector   = "div.s-result-item"
	titleSelector  = "span.a-text-normal"
	authorSelector = "a.a-size-base"
	priceSelector  = "span.a-price-whole"
	ratingSelector = "span.a-icon-alt"
)

// ParseItem reads one item container. ok is false when any of the four
// fields is absent, in which case the item must be skipped.
func ParseItem(s *goquery.Selection) (models.Record, bool) {
	title, ok := field(s, titleSelector)
	if !ok {
		return models.Record{}, false
	}
	author, ok := field(s, authorSelector)
	if !ok {
		return models.Record{}, false
	}
	price, ok := field(s, priceSelector)
	if !ok {
		return models.Record{}, false
	}
	rating, ok := field(s, ratingSelector)
	if !ok {
		return models.Record{}, false
	}
	return models.Record{
		Title:  title,
		Author: author,
		Price:  price,
		Rating: rating,
	}, true
}

// field returns the trimmed text of the first match. A matched element whose
// text is blank counts as absent because the title doubles as the dedup key.
func field(s *goquery.Selection, selector string) (string, bool) {
	match := s.Find(selector).First()
	if match.Length() == 0 {
		return "", false
	}
	text := strings.TrimSpace(match.Text())
	if text == "" {
		return "", false
	}
	return text, true
}
