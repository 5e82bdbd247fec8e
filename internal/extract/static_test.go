package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStaticFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Fatal("应带浏览器 User-Agent")
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Widget</title></head><body><span class="price">$25.00</span></body></html>`))
	}))
	defer srv.Close()

	s := NewStatic(StaticOptions{Timeout: time.Second, UserAgent: "test"}, testLogger())
	result, err := s.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if result.Title != "Widget" {
		t.Fatalf("标题不正确: %q", result.Title)
	}
	if result.Price == nil || *result.Price != 2500 {
		t.Fatalf("价格不正确: %#v", result.Price)
	}
}

func TestStaticFetchBotWallStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewStatic(StaticOptions{Timeout: time.Second}, testLogger())
	_, err := s.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("HTTP 403 应返回错误")
	}
	if KindOf(err) != KindBotWall {
		t.Fatalf("403 应判定为 botwall, 实际 %s", KindOf(err))
	}
}

func TestStaticFetchBotWallMarkerInBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("<html>Please complete the CAPTCHA to continue</html>"))
	}))
	defer srv.Close()

	s := NewStatic(StaticOptions{Timeout: time.Second}, testLogger())
	_, err := s.Fetch(context.Background(), srv.URL)
	if KindOf(err) != KindBotWall {
		t.Fatalf("带 captcha 字样的 4xx 应判定为 botwall, 实际 %s", KindOf(err))
	}
}

func TestStaticFetchNoData404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("<html>page gone</html>"))
	}))
	defer srv.Close()

	s := NewStatic(StaticOptions{Timeout: time.Second}, testLogger())
	_, err := s.Fetch(context.Background(), srv.URL)
	if KindOf(err) != KindNoData {
		t.Fatalf("普通 404 应判定为 no_data, 实际 %s", KindOf(err))
	}
}

func TestStaticFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewStatic(StaticOptions{Timeout: time.Second}, testLogger())
	_, err := s.Fetch(context.Background(), srv.URL)
	if KindOf(err) != KindNetwork {
		t.Fatalf("5xx 应判定为 network, 实际 %s", KindOf(err))
	}
}

func TestStaticFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	s := NewStatic(StaticOptions{Timeout: 50 * time.Millisecond}, testLogger())
	_, err := s.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("超时应返回错误")
	}
	if KindOf(err) != KindTimeout {
		t.Fatalf("超时应判定为 timeout, 实际 %s", KindOf(err))
	}
}
