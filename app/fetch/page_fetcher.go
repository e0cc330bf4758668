package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/klaudstn/postvault/app/content"
	"github.com/klaudstn/postvault/app/sources"
)

// HTMLPageFetcher captures an item page over plain HTTP and turns it
// into a raw element stream: page-level metadata from the document
// head, embedded media as media elements, and the full payload as one
// html element for readability extraction downstream.
type HTMLPageFetcher struct {
	client *resty.Client
}

func NewHTMLPageFetcher(userAgent string, timeout time.Duration) *HTMLPageFetcher {
	client := resty.New().
		SetHeader("User-Agent", userAgent).
		SetTimeout(timeout).
		SetRetryCount(0)

	return &HTMLPageFetcher{client: client}
}

func (f *HTMLPageFetcher) FetchPage(ctx context.Context, config *sources.Config, itemURL string) (*PageDetail, error) {
	resp, err := f.client.R().SetContext(ctx).Get(itemURL)
	if err != nil {
		return nil, &FetchError{URL: itemURL, Transient: true, Err: err}
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusOK:
	case status == http.StatusTooManyRequests || status >= 500:
		return nil, &FetchError{URL: itemURL, Transient: true, Err: fmt.Errorf("HTTP %d", status)}
	default:
		return nil, &FetchError{URL: itemURL, Transient: false, Err: fmt.Errorf("HTTP %d", status)}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(resp.Body())))
	if err != nil {
		return nil, &FetchError{URL: itemURL, Transient: false, Err: fmt.Errorf("failed to parse page: %w", err)}
	}

	base, err := url.Parse(itemURL)
	if err != nil {
		return nil, &FetchError{URL: itemURL, Transient: false, Err: fmt.Errorf("invalid item URL: %w", err)}
	}

	detail := &PageDetail{
		Title: pageTitle(doc),
		Tags:  pageTags(doc),
	}

	// Cover image first so it leads the block sequence.
	if cover, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok && cover != "" {
		detail.Elements = append(detail.Elements, content.RawElement{
			Kind:  "image",
			URL:   resolveURL(base, cover),
			Attrs: map[string]string{"role": "cover"},
		})
	}

	doc.Find("article img, main img").Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		if !ok || src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		detail.Elements = append(detail.Elements, content.RawElement{
			Kind: "image",
			Text: sel.AttrOr("alt", ""),
			URL:  resolveURL(base, src),
		})
	})

	doc.Find("article video source, article video[src], article audio source").Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		if !ok || src == "" {
			return
		}
		kind := "video"
		if sel.Closest("audio").Length() > 0 {
			kind = "audio"
		}
		detail.Elements = append(detail.Elements, content.RawElement{
			Kind: kind,
			URL:  resolveURL(base, src),
		})
	})

	detail.Elements = append(detail.Elements, content.RawElement{
		Kind: "html",
		Text: string(resp.Body()),
	})

	return detail, nil
}

func pageTitle(doc *goquery.Document) string {
	if title, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && title != "" {
		return strings.TrimSpace(title)
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func pageTags(doc *goquery.Document) []string {
	seen := make(map[string]struct{})
	var tags []string

	add := func(raw string) {
		for _, part := range strings.Split(raw, ",") {
			tag := strings.ToLower(strings.TrimSpace(part))
			if tag == "" {
				continue
			}
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			tags = append(tags, tag)
		}
	}

	doc.Find(`meta[property="article:tag"]`).Each(func(_ int, sel *goquery.Selection) {
		if v, ok := sel.Attr("content"); ok {
			add(v)
		}
	})
	if v, ok := doc.Find(`meta[name="keywords"]`).Attr("content"); ok {
		add(v)
	}

	return tags
}

func resolveURL(base *url.URL, ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}
