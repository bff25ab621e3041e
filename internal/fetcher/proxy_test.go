package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mholgersen/bookgraph/internal/config"
	"github.com/mholgersen/bookgraph/internal/types"
)

func TestProxyRoundRobin(t *testing.T) {
	pm := NewProxyManager(&config.Proxy{
		Rotation: "round_robin",
		URLs:     []string{"http://p1:8080", "http://p2:8080", "http://p3:8080"},
	}, testLogger)

	seen := make(map[string]int)
	for i := 0; i < 9; i++ {
		u := pm.Next()
		if u == nil {
			t.Fatal("Next() = nil with healthy proxies")
		}
		seen[u.Host]++
	}
	for host, n := range seen {
		if n != 3 {
			t.Errorf("proxy %s used %d times, want 3", host, n)
		}
	}
}

func TestProxyMarkFailed(t *testing.T) {
	pm := NewProxyManager(&config.Proxy{
		Rotation: "round_robin",
		URLs:     []string{"http://p1:8080", "http://p2:8080"},
	}, testLogger)

	bad := pm.Next()
	pm.MarkFailed(bad, errors.New("connection refused"))

	for i := 0; i < 4; i++ {
		if u := pm.Next(); u.Host == bad.Host {
			t.Fatalf("unhealthy proxy %s still served", bad.Host)
		}
	}
}

func TestProxyNextEmpty(t *testing.T) {
	pm := NewProxyManager(&config.Proxy{Rotation: "round_robin"}, testLogger)
	if u := pm.Next(); u != nil {
		t.Errorf("Next() = %v, want nil for empty pool", u)
	}
}

func TestProxyAt(t *testing.T) {
	pm := NewProxyManager(&config.Proxy{
		Rotation: "round_robin",
		URLs:     []string{"http://p1:8080", "http://p2:8080", "http://p3:8080"},
	}, testLogger)

	// Assignment is stable per index and wraps past the pool size.
	for i := 0; i < 6; i++ {
		u := pm.At(i)
		if u == nil {
			t.Fatalf("At(%d) = nil with registered proxies", i)
		}
		want := pm.At(i % 3)
		if u.Host != want.Host {
			t.Errorf("At(%d) = %s, want %s", i, u.Host, want.Host)
		}
	}
	if pm.At(0).Host == pm.At(1).Host {
		t.Error("adjacent partitions share a proxy")
	}

	empty := NewProxyManager(&config.Proxy{Rotation: "round_robin"}, testLogger)
	if u := empty.At(0); u != nil {
		t.Errorf("At(0) = %v, want nil for empty pool", u)
	}
}

func TestFetchProxyList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("10.0.0.1:8080\r\n10.0.0.2:8080\n\n10.0.0.3:3128\n"))
	}))
	defer srv.Close()

	pm := NewProxyManager(&config.Proxy{Rotation: "round_robin"}, testLogger)
	if err := pm.FetchProxyList(context.Background(), srv.URL); err != nil {
		t.Fatalf("FetchProxyList() error = %v", err)
	}
	if pm.Count() != 3 {
		t.Errorf("Count() = %d, want 3", pm.Count())
	}
}

func TestEnsureAvailable(t *testing.T) {
	pm := NewProxyManager(&config.Proxy{
		Rotation: "round_robin",
		URLs:     []string{"http://p1:8080", "http://p2:8080"},
	}, testLogger)

	if err := pm.EnsureAvailable(2); err != nil {
		t.Errorf("EnsureAvailable(2) error = %v", err)
	}
	err := pm.EnsureAvailable(4)
	if !errors.Is(err, types.ErrProxyShortage) {
		t.Errorf("EnsureAvailable(4) error = %v, want ErrProxyShortage", err)
	}
}
