package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDefaultHeadersDoNotOverrideRequest(t *testing.T) {
	got := make(chan http.Header, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Clone()
	}))
	defer srv.Close()

	client := NewPooled(1, 5*time.Second,
		WithUserAgent("station-notify (ladder-2)"),
		WithHeader("X-Station", "ladder-2"),
		WithHeader("X-Empty", ""),
	)

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	h := <-got
	if h.Get("User-Agent") != "station-notify (ladder-2)" || h.Get("X-Station") != "ladder-2" {
		t.Fatalf("headers = %v", h)
	}
	if _, ok := h["X-Empty"]; ok {
		t.Fatal("empty header value was sent")
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("X-Station", "engine-7")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if h := <-got; h.Get("X-Station") != "engine-7" {
		t.Fatalf("request header overridden: %q", h.Get("X-Station"))
	}
	if req.Header.Get("User-Agent") != "" {
		t.Fatal("caller's request was mutated")
	}
}
