package report

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pricewatcher/internal/trend"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func TestHTTPEmitterSuccess(t *testing.T) {
	var received Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("应为 POST, 实际 %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Fatal("应带 Bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	price := int64(4999)
	emitter := NewHTTPEmitter(srv.URL, "tok", time.Second, testLogger())
	err := emitter.Emit(context.Background(), Request{
		GeneratedAt: time.Now().UTC(),
		TriggeredBy: "manual",
		Rows: []trend.Summary{
			{ProductID: 1, Name: "Widget", CurrentMinor: &price, Currency: "USD"},
			{ProductID: 2, Name: "Gone"},
		},
	})
	if err != nil {
		t.Fatalf("2xx 响应不应报错: %v", err)
	}
	if len(received.Rows) != 2 {
		t.Fatalf("应包含所有行, 实际 %d", len(received.Rows))
	}
	if received.TriggeredBy != "manual" {
		t.Fatalf("triggered_by 不正确: %q", received.TriggeredBy)
	}
}

func TestHTTPEmitterServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	emitter := NewHTTPEmitter(srv.URL, "", time.Second, testLogger())
	if err := emitter.Emit(context.Background(), Request{}); err == nil {
		t.Fatal("5xx 应返回错误")
	}
}

func TestHTTPEmitterNoEndpoint(t *testing.T) {
	emitter := NewHTTPEmitter("", "", time.Second, testLogger())
	if err := emitter.Emit(context.Background(), Request{}); err == nil {
		t.Fatal("缺少 endpoint 应返回错误")
	}
}
