package parse

import (
	"context"
	"fmt"
	"strings"
	"time"

	web "ingestd/internal/tools/web"

	"ingestd/internal/kind"
)

// URLParser fetches a URL and extracts visible text from the response.
type URLParser struct {
	fetcher *web.Fetcher
}

// NewURLParser builds a URLParser with the 10-second fetch timeout and
// single-hop redirect-following required of URL ingestion.
func NewURLParser() *URLParser {
	return &URLParser{
		fetcher: web.NewFetcher(
			web.WithTimeout(10*time.Second),
			web.WithPreferReadable(true),
			web.WithMaxRedirects(1),
		),
	}
}

// Parse fetches rawURL and returns normalized visible text.
func (p *URLParser) Parse(ctx context.Context, rawURL string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := p.fetcher.FetchMarkdown(cctx, rawURL)
	if err != nil {
		return "", kind.New(kind.ParseError, "parse.url", fmt.Errorf("fetch %s: %w", rawURL, err))
	}

	text := collapseBlankLines(strings.TrimSpace(res.Markdown))
	if text == "" {
		return "", failEmpty("parse.url")
	}
	return text, nil
}
