package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const feedXML = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <item>
      <title>삼성전자, 신규 반도체 투자 발표</title>
      <link>https://example.com/news/1</link>
      <description>본문</description>
      <pubDate>Mon, 02 Mar 2026 09:00:00 +0900</pubDate>
    </item>
    <item>
      <title></title>
      <link>https://example.com/news/2</link>
    </item>
    <item>
      <title>SK하이닉스 수주 확대</title>
      <link>https://example.com/news/3</link>
      <pubDate>not a date</pubDate>
    </item>
  </channel>
</rss>`

func TestRSSFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	f := NewRSSFetcher(srv.URL, 10, 600)
	items, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	// The title-less item is dropped.
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}

	first := items[0]
	if first.Title != "삼성전자, 신규 반도체 투자 발표" || first.URL != "https://example.com/news/1" {
		t.Errorf("first item = %+v", first)
	}
	want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if !first.PublishedAt.Equal(want) {
		t.Errorf("published at = %s, want %s", first.PublishedAt, want)
	}

	// Unparseable pubDate falls back to now.
	if items[1].PublishedAt.IsZero() {
		t.Error("fallback pub date not set")
	}
}

func TestRSSFetcherServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewRSSFetcher(srv.URL, 10, 600)
	if _, err := f.Fetch(context.Background()); err == nil {
		t.Fatal("Fetch succeeded against a failing feed")
	}
}

func TestHashDeterministic(t *testing.T) {
	a := Sample()
	b := Sample()
	if Hash(a) != Hash(b) {
		t.Error("same item hashed differently")
	}

	b.Title = "다른 제목"
	if Hash(a) == Hash(b) {
		t.Error("different titles collided")
	}
}
