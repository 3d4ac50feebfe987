/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: extract.go
Description: HTML request extraction for the Akaylee Scanner. Parses a page with goquery and
turns its anchors, frames and forms into fuzzable requests. Used for target seeding and by the
spider discovery plugin.
*/

package request

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FromHTML extracts fuzzable requests from an HTML document located at base
// The page itself is always returned first; links with non-http schemes are skipped
func FromHTML(base *url.URL, body []byte) ([]*FuzzableRequest, error) {
	page := FromURL(http.MethodGet, base, nil).WithoutFragment()
	out := []*FuzzableRequest{page}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("failed to parse document: %w", err)
	}

	// <base href> changes how relative links resolve
	resolveBase := base
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if u, err := base.Parse(strings.TrimSpace(href)); err == nil {
			resolveBase = u
		}
	}

	doc.Find("a[href], area[href], link[href], frame[src], iframe[src]").Each(func(i int, s *goquery.Selection) {
		ref, ok := s.Attr("href")
		if !ok {
			ref, _ = s.Attr("src")
		}
		if u := resolve(resolveBase, ref); u != nil {
			out = append(out, FromURL(http.MethodGet, u, nil))
		}
	})

	doc.Find("form").Each(func(i int, form *goquery.Selection) {
		if fr := fromForm(resolveBase, form); fr != nil {
			out = append(out, fr)
		}
	})

	return out, nil
}

// fromForm builds a request from a form element and its named inputs
func fromForm(base *url.URL, form *goquery.Selection) *FuzzableRequest {
	action, _ := form.Attr("action")
	u := resolve(base, action)
	if u == nil {
		return nil
	}

	method := strings.ToUpper(strings.TrimSpace(form.AttrOr("method", http.MethodGet)))
	if method != http.MethodPost {
		method = http.MethodGet
	}

	params := make(url.Values)
	form.Find("input[name], textarea[name], select[name]").Each(func(i int, field *goquery.Selection) {
		name, _ := field.Attr("name")
		if name == "" {
			return
		}
		if goquery.NodeName(field) == "input" {
			switch strings.ToLower(field.AttrOr("type", "text")) {
			case "submit", "button", "reset", "image", "file":
				return
			}
		}
		params.Add(name, field.AttrOr("value", ""))
	})

	if method == http.MethodGet {
		for name, values := range u.Query() {
			if _, ok := params[name]; !ok {
				params[name] = values
			}
		}
		u.RawQuery = params.Encode()
	}

	fr := FromURL(method, u, params)
	if enctype := form.AttrOr("enctype", ""); enctype != "" && method == http.MethodPost {
		fr.Headers.Set("Content-Type", enctype)
	}
	return fr
}

// resolve turns a raw reference into an absolute http(s) URL without fragment
func resolve(base *url.URL, ref string) *url.URL {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "#") {
		return nil
	}
	u, err := base.Parse(ref)
	if err != nil {
		return nil
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u
}
