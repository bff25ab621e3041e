package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/mholgersen/bookgraph/internal/config"
	"github.com/mholgersen/bookgraph/internal/fetcher"
	"github.com/mholgersen/bookgraph/internal/match"
	"github.com/mholgersen/bookgraph/internal/textnorm"
	"github.com/mholgersen/bookgraph/internal/types"
)

// candidateXPath selects the anchor of every product teaser on a search
// results page. Each anchor carries the candidate metadata as JSON in its
// data-val attribute.
const candidateXPath = `//div[contains(@class, "product-list-teaser")]//a[@data-val]`

// Client resolves titles and identifiers to catalog detail-page URLs by
// querying the retailer's search endpoint.
type Client struct {
	fetcher fetcher.Fetcher
	matcher *match.Matcher
	baseURL string
	path    string
	logger  *slog.Logger
}

// New creates a search client on top of the given fetcher.
func New(cfg *config.Config, f fetcher.Fetcher, m *match.Matcher, logger *slog.Logger) *Client {
	return &Client{
		fetcher: f,
		matcher: m,
		baseURL: strings.TrimRight(cfg.Catalog.BaseURL, "/"),
		path:    cfg.Catalog.SearchPath,
		logger:  logger.With("component", "search"),
	}
}

// SearchByTitle runs a title query and returns every candidate on the first
// results page, in page order. An empty slice with a nil error means the
// query returned no product teasers.
func (c *Client) SearchByTitle(ctx context.Context, title string) ([]types.Candidate, error) {
	res, err := c.fetcher.Fetch(ctx, c.queryURL(title))
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", title, err)
	}
	return parseCandidates(res.Body, res.FinalURL)
}

// FindBookURL resolves a title/author query to the detail-page URL of the
// first candidate the matcher accepts. When no candidate passes, the error
// wraps ErrNoMatch so callers can fall back to a placeholder record.
func (c *Client) FindBookURL(ctx context.Context, q match.Query) (string, error) {
	candidates, err := c.SearchByTitle(ctx, q.Title)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("search %q: %w", q.Title, types.ErrNoResult)
	}

	for _, cand := range candidates {
		if c.matcher.Match(q, cand) {
			c.logger.Debug("candidate accepted",
				"title", q.Title,
				"candidate", cand.Name,
				"id", cand.ID,
			)
			return c.resolveURL(cand.URL), nil
		}
	}

	c.logger.Debug("no candidate accepted", "title", q.Title, "candidates", len(candidates))
	return "", &types.NoMatchError{Title: q.Title, Author: q.Author}
}

// FindBookURLByISBN resolves an identifier to a detail-page URL. Identifier
// queries either redirect straight to the detail page, or land on a results
// page where the candidate whose ID equals the identifier wins.
func (c *Client) FindBookURLByISBN(ctx context.Context, isbn string) (string, error) {
	res, err := c.fetcher.Fetch(ctx, c.queryURL(isbn))
	if err != nil {
		return "", fmt.Errorf("search isbn %s: %w", isbn, err)
	}

	// A direct hit skips the results page entirely.
	if !strings.Contains(res.FinalURL, "search?query") {
		return res.FinalURL, nil
	}

	candidates, err := parseCandidates(res.Body, res.FinalURL)
	if err != nil {
		return "", err
	}
	for _, cand := range candidates {
		if cand.ID == isbn {
			return c.resolveURL(cand.URL), nil
		}
	}
	return "", fmt.Errorf("search isbn %s: %w", isbn, types.ErrNoResult)
}

// queryURL builds the search URL for a raw query term. Spaces become '+',
// matching the retailer's query format; the term is already ASCII after
// transliteration, so nothing else needs escaping.
func (c *Client) queryURL(term string) string {
	q := strings.ReplaceAll(textnorm.Transliterate.Replace(term), " ", "+")
	return c.baseURL + c.path + "?query=" + q
}

// resolveURL turns a teaser href into an absolute URL.
func (c *Client) resolveURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return c.baseURL + "/" + strings.TrimLeft(href, "/")
}

// parseCandidates extracts every teaser candidate from a results page. A
// teaser with malformed metadata is skipped rather than failing the page.
func parseCandidates(body []byte, pageURL string) ([]types.Candidate, error) {
	doc, err := htmlquery.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, &types.ParseError{URL: pageURL, Selector: candidateXPath, Err: err}
	}

	nodes, err := htmlquery.QueryAll(doc, candidateXPath)
	if err != nil {
		return nil, &types.ParseError{URL: pageURL, Selector: candidateXPath, Err: err}
	}

	candidates := make([]types.Candidate, 0, len(nodes))
	for _, node := range nodes {
		raw := htmlquery.SelectAttr(node, "data-val")
		if raw == "" {
			continue
		}
		var cand types.Candidate
		if err := json.Unmarshal([]byte(raw), &cand); err != nil {
			continue
		}
		if cand.URL == "" {
			cand.URL = attrValue(node, "href")
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

func attrValue(node *html.Node, name string) string {
	for _, attr := range node.Attr {
		if attr.Key == name {
			return attr.Val
		}
	}
	return ""
}
