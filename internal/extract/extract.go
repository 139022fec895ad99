// Package extract finds outbound http(s) links in content records.
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"linkcheck/internal/models"
)

// LinkTypeExternal is the link type assigned to every extracted link.
const LinkTypeExternal = "external"

// linkSelectors lists the elements whose href or src may point off-site.
const linkSelectors = "a[href], area[href], img[src], iframe[src], source[src], video[src], audio[src], embed[src]"

var bareURL = regexp.MustCompile(`https?://[^\s<>"'\x60]+`)

// Link is one link occurrence.
type Link struct {
	URL   string
	Title string
}

// Links returns the http(s) links of rec in document order, without duplicates.
func Links(rec models.ContentRecord) ([]Link, error) {
	switch rec.ContentType {
	case models.ContentLink:
		if u := strings.TrimSpace(rec.Body); isExternal(u) {
			return []Link{{URL: u, Title: rec.Title}}, nil
		}
		return nil, nil
	case models.ContentText:
		return fromText(rec.Body), nil
	default:
		return fromHTML(rec.Body)
	}
}

// Candidates returns the links of rec as check candidates.
func Candidates(rec models.ContentRecord) ([]models.LinkCandidate, error) {
	links, err := Links(rec)
	if err != nil {
		return nil, fmt.Errorf("extract %s:%d %s: %w", rec.SourceTable, rec.RecordID, rec.Field, err)
	}
	out := make([]models.LinkCandidate, 0, len(links))
	for _, l := range links {
		out = append(out, models.LinkCandidate{
			URL:            l.URL,
			LinkType:       LinkTypeExternal,
			SourceTable:    rec.SourceTable,
			SourceRecordID: rec.RecordID,
			PageID:         rec.PageID,
			Field:          rec.Field,
			LinkTitle:      l.Title,
		})
	}
	return out, nil
}

// Contains reports whether target still occurs among the links of rec.
func Contains(rec models.ContentRecord, target string) bool {
	links, err := Links(rec)
	if err != nil {
		return false
	}
	for _, l := range links {
		if l.URL == target {
			return true
		}
	}
	return false
}

func fromHTML(body string) ([]Link, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := make(map[string]bool)
	var links []Link
	doc.Find(linkSelectors).Each(func(_ int, s *goquery.Selection) {
		raw, ok := s.Attr("href")
		if !ok {
			raw, _ = s.Attr("src")
		}
		raw = strings.TrimSpace(raw)
		if !isExternal(raw) || seen[raw] {
			return
		}
		seen[raw] = true
		links = append(links, Link{URL: raw, Title: titleOf(s)})
	})
	return links, nil
}

func titleOf(s *goquery.Selection) string {
	if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
		return t
	}
	if t, ok := s.Attr("title"); ok {
		return strings.TrimSpace(t)
	}
	t, _ := s.Attr("alt")
	return strings.TrimSpace(t)
}

func fromText(body string) []Link {
	seen := make(map[string]bool)
	var links []Link
	for _, m := range bareURL.FindAllString(body, -1) {
		m = strings.TrimRight(m, ".,;:!?)]}")
		if !isExternal(m) || seen[m] {
			continue
		}
		seen[m] = true
		links = append(links, Link{URL: m})
	}
	return links
}

func isExternal(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}
