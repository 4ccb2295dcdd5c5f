package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/valyala/fasthttp"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	DefaultEnrichTimeout = 10 * time.Second
	MaxWebsiteContent    = 8000
	maxEnrichRedirects   = 5
	enrichUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// ContentEnricher fetches extra context about a contact.
type ContentEnricher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// WebsiteEnricher distills a company homepage into plain text: title, meta
// description and visible body text.
type WebsiteEnricher struct {
	client  *fasthttp.Client
	timeout time.Duration
}

func NewWebsiteEnricher(timeout time.Duration) *WebsiteEnricher {
	if timeout <= 0 {
		timeout = DefaultEnrichTimeout
	}
	return &WebsiteEnricher{
		timeout: timeout,
		client: &fasthttp.Client{
			Name:                "outreach-enricher",
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxConnWaitTimeout:  timeout,
			MaxResponseBodySize: 4 << 20,
		},
	}
}

// NormalizeURL adds a scheme when missing and rejects URLs without a host.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("no website URL provided")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("invalid URL format: %s", raw)
	}
	return parsed.String(), nil
}

func (e *WebsiteEnricher) Fetch(ctx context.Context, rawURL string) (string, error) {
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(target)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("User-Agent", enrichUserAgent)

	if err := e.do(ctx, req, resp); err != nil {
		return "", fmt.Errorf("fetch %s: %w", target, err)
	}
	if code := resp.StatusCode(); code >= 400 {
		return "", fmt.Errorf("fetch %s: status %d", target, code)
	}

	body, err := resp.BodyUncompressed()
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", target, err)
	}
	text, err := ExtractPageText(body)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", target, err)
	}
	if text == "" {
		return "", fmt.Errorf("no readable content at %s", target)
	}
	return text, nil
}

// do follows redirects under one deadline covering every hop, the earlier of
// the enricher timeout and the ctx deadline.
func (e *WebsiteEnricher) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	deadline := time.Now().Add(e.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	for hops := 0; ; hops++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.client.DoDeadline(req, resp, deadline); err != nil {
			return err
		}
		if !fasthttp.StatusCodeIsRedirect(resp.StatusCode()) {
			return nil
		}
		if hops == maxEnrichRedirects {
			return fasthttp.ErrTooManyRedirects
		}
		location := resp.Header.Peek(fasthttp.HeaderLocation)
		if len(location) == 0 {
			return fasthttp.ErrMissingLocation
		}
		req.URI().UpdateBytes(location)
	}
}

var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Svg:      true,
}

// ExtractPageText returns title, meta description and body text joined by
// single spaces and capped at MaxWebsiteContent bytes.
func ExtractPageText(page []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return "", err
	}

	var title, description string
	var bodyText []string

	var walk func(n *html.Node, inBody bool)
	walk = func(n *html.Node, inBody bool) {
		if n.Type == html.ElementNode {
			switch {
			case n.DataAtom == atom.Title && title == "":
				title = nodeText(n)
				return
			case n.DataAtom == atom.Meta && strings.EqualFold(attr(n, "name"), "description"):
				description = attr(n, "content")
			case n.DataAtom == atom.Body:
				inBody = true
			case skippedElements[n.DataAtom]:
				return
			}
		}
		if n.Type == html.TextNode && inBody {
			bodyText = append(bodyText, n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inBody)
		}
	}
	walk(doc, false)

	parts := make([]string, 0, 3)
	for _, p := range []string{title, description, strings.Join(bodyText, " ")} {
		if p = collapseWhitespace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return truncateUTF8(strings.Join(parts, " "), MaxWebsiteContent), nil
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	s = s[:limit]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
