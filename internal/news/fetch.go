// Package news fetches headline items from an RSS feed, with a built-in
// sample item for offline runs.
package news

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"newstrader/internal/util"
)

// Item is a single news item from any source.
type Item struct {
	Source      string
	Tier        int // source reliability tier, 1 best
	Title       string
	Body        string
	URL         string
	PublishedAt time.Time
}

// Hash derives the dedup key for an item. The same story fetched twice maps
// to the same hash, which backs the source_event_id uniqueness guarantee.
func Hash(item Item) string {
	sum := sha256.Sum256([]byte(item.Source + "|" + item.URL + "|" + item.Title))
	return hex.EncodeToString(sum[:])
}

// Fetcher supplies news items.
type Fetcher interface {
	Fetch(ctx context.Context) ([]Item, error)
}

// ---------------------------------------------------------------------------
// RSS
// ---------------------------------------------------------------------------

type rssResponse struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	Desc    string `xml:"description"`
	PubDate string `xml:"pubDate"`
}

// RSSFetcher pulls items from a single RSS feed URL.
type RSSFetcher struct {
	url     string
	limit   int
	client  *http.Client
	limiter *util.RateLimiter
}

var _ Fetcher = (*RSSFetcher)(nil)

// NewRSSFetcher creates a fetcher for the feed at url, returning at most
// limit items per fetch and pacing requests at perMinute.
func NewRSSFetcher(url string, limit, perMinute int) *RSSFetcher {
	if limit <= 0 {
		limit = 10
	}
	return &RSSFetcher{
		url:     url,
		limit:   limit,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: util.NewRateLimiter(perMinute),
	}
}

// Fetch downloads and parses the feed. Transport hiccups are retried twice
// before the error is surfaced.
func (f *RSSFetcher) Fetch(ctx context.Context) ([]Item, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var rss rssResponse
	err := util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0")

		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("rss fetch: status %d", resp.StatusCode)
		}

		rss = rssResponse{}
		return xml.NewDecoder(resp.Body).Decode(&rss)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", f.url, err)
	}

	items := make([]Item, 0, len(rss.Channel.Items))
	for _, it := range rss.Channel.Items {
		title := strings.TrimSpace(html.UnescapeString(it.Title))
		link := strings.TrimSpace(it.Link)
		if title == "" || link == "" {
			continue
		}
		items = append(items, Item{
			Source:      "rss",
			Tier:        2,
			Title:       title,
			Body:        strings.TrimSpace(html.UnescapeString(it.Desc)),
			URL:         link,
			PublishedAt: parsePubDate(it.PubDate),
		})
		if len(items) >= f.limit {
			break
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("feed %s has no usable items", f.url)
	}
	return items, nil
}

func parsePubDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Now().UTC()
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

// ---------------------------------------------------------------------------
// Sample
// ---------------------------------------------------------------------------

// SampleFetcher returns a fixed item for demos and tests.
type SampleFetcher struct{}

var _ Fetcher = SampleFetcher{}

// Fetch returns the built-in sample item.
func (SampleFetcher) Fetch(_ context.Context) ([]Item, error) {
	return []Item{Sample()}, nil
}

// Sample is the canonical demo item.
func Sample() Item {
	return Item{
		Source:      "sample",
		Tier:        2,
		Title:       "삼성전자, 신규 반도체 투자 발표",
		Body:        "샘플 뉴스 본문",
		URL:         "https://example.com/news/1",
		PublishedAt: time.Now().UTC(),
	}
}
