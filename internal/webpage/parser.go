package webpage

import (
	"errors"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Page holds everything extracted from a single-pass HTML parse.
type Page struct {
	Title string
	// Description is the content of <meta name="description">.
	Description string
	// ImageURL is the absolute og:image (or twitter:image) URL, if any.
	ImageURL string
	// Text is the visible text, whitespace-collapsed and space-separated.
	Text string
}

// ClaimText returns the description when present, otherwise the visible text.
func (p *Page) ClaimText() string {
	if p.Description != "" {
		return p.Description
	}
	return p.Text
}

// invisibleTags have content that never renders as page text.
var invisibleTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"svg":      true,
	"iframe":   true,
}

// Parse performs a single-pass traversal of the HTML body, extracting the
// title, meta description, preview image, and visible text.
func Parse(body io.Reader, baseURL *url.URL) (*Page, error) {
	page := &Page{}

	z := html.NewTokenizer(body)
	var (
		inTitle   bool
		hiddenLvl int
		text      []string
		twitter   string
	)

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				page.Text = strings.Join(text, " ")
				if page.ImageURL == "" && twitter != "" {
					page.ImageURL = resolve(twitter, baseURL)
				}
				return page, nil
			}
			return nil, z.Err()

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := z.TagName()
			tag := string(tn)

			switch {
			case tag == "title":
				inTitle = tt == html.StartTagToken

			case invisibleTags[tag] && tt == html.StartTagToken:
				hiddenLvl++

			case tag == "meta" && hasAttr:
				attrs := collectAttrs(z)
				content := strings.TrimSpace(attrs["content"])
				if content == "" {
					break
				}
				key := strings.ToLower(attrs["name"])
				if key == "" {
					key = strings.ToLower(attrs["property"])
				}
				switch key {
				case "description":
					if page.Description == "" {
						page.Description = content
					}
				case "og:image", "og:image:url", "og:image:secure_url":
					if page.ImageURL == "" {
						page.ImageURL = resolve(content, baseURL)
					}
				case "twitter:image", "twitter:image:src":
					if twitter == "" {
						twitter = content
					}
				}
			}

		case html.TextToken:
			if hiddenLvl > 0 {
				continue
			}
			raw := string(z.Text())
			if inTitle {
				if page.Title == "" {
					page.Title = strings.TrimSpace(raw)
				}
				continue
			}
			if fields := strings.Fields(raw); len(fields) > 0 {
				text = append(text, strings.Join(fields, " "))
			}

		case html.EndTagToken:
			tn, _ := z.TagName()
			tag := string(tn)
			switch {
			case tag == "title":
				inTitle = false
			case invisibleTags[tag] && hiddenLvl > 0:
				hiddenLvl--
			}
		}
	}
}

// collectAttrs reads the remaining attributes of the current tag. Keys are
// lowercased by the tokenizer.
func collectAttrs(z *html.Tokenizer) map[string]string {
	attrs := make(map[string]string)
	for {
		key, val, more := z.TagAttr()
		if _, seen := attrs[string(key)]; !seen {
			attrs[string(key)] = string(val)
		}
		if !more {
			return attrs
		}
	}
}

// resolve makes ref absolute against base and keeps only http(s) results.
func resolve(ref string, base *url.URL) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	return parsed.String()
}
