package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBrowserRenderSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/content" {
			t.Fatalf("路径应为 /content, 实际 %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Fatal("应带 Bearer token")
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		if req["waitUntil"] != "networkidle2" {
			t.Fatalf("waitUntil 不正确: %v", req["waitUntil"])
		}
		_, _ = w.Write([]byte("<html><body>rendered</body></html>"))
	}))
	defer srv.Close()

	b := NewBrowser(BrowserOptions{Endpoint: srv.URL, Token: "tok", Timeout: time.Second}, testLogger())
	html, err := b.Render(context.Background(), "https://shop.example/w")
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if html != "<html><body>rendered</body></html>" {
		t.Fatalf("HTML 不正确: %q", html)
	}
}

func TestBrowserRenderNavigationTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Navigation timeout of 30000 ms exceeded"})
	}))
	defer srv.Close()

	b := NewBrowser(BrowserOptions{Endpoint: srv.URL, Timeout: time.Second}, testLogger())
	_, err := b.Render(context.Background(), "https://shop.example/w")
	if KindOf(err) != KindTimeout {
		t.Fatalf("导航超时应判定为 timeout, 实际 %s", KindOf(err))
	}
}

func TestBrowserRenderProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewBrowser(BrowserOptions{Endpoint: srv.URL, Timeout: time.Second}, testLogger())
	_, err := b.Render(context.Background(), "https://shop.example/w")
	if KindOf(err) != KindProvider {
		t.Fatalf("5xx 应判定为 provider, 实际 %s", KindOf(err))
	}
}

type slowRenderer struct {
	concurrent int64
	peak       int64
	mu         sync.Mutex
}

func (s *slowRenderer) Render(ctx context.Context, url string) (string, error) {
	current := atomic.AddInt64(&s.concurrent, 1)
	defer atomic.AddInt64(&s.concurrent, -1)

	s.mu.Lock()
	if current > s.peak {
		s.peak = current
	}
	s.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	return "<html></html>", nil
}

func TestBrowserPoolBoundsConcurrency(t *testing.T) {
	renderer := &slowRenderer{}
	pool := NewBrowserPool(renderer, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := pool.Render(context.Background(), "https://shop.example/w"); err != nil {
				t.Errorf("渲染不应报错: %v", err)
			}
		}()
	}
	wg.Wait()

	if renderer.peak > 2 {
		t.Fatalf("并发渲染不应超过池大小, 峰值 %d", renderer.peak)
	}
}

func TestBrowserPoolContextCancelled(t *testing.T) {
	pool := NewBrowserPool(&slowRenderer{}, 1)

	// Occupy the only slot.
	release := make(chan struct{})
	go func() {
		<-pool.slots
		<-release
		pool.slots <- struct{}{}
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := pool.Render(ctx, "https://shop.example/w")
	close(release)
	if KindOf(err) != KindTimeout {
		t.Fatalf("等待槽位超时应判定为 timeout, 实际 %s", KindOf(err))
	}
}
