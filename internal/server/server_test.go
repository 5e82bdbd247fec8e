package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatcher/internal/storage"
)

type enqueued struct {
	kind    storage.JobKind
	payload any
}

type fakeQueue struct {
	jobs       []enqueued
	enqueueErr error
}

func (f *fakeQueue) Enqueue(_ context.Context, kind storage.JobKind, payload any, _ *uuid.UUID) (uuid.UUID, error) {
	if f.enqueueErr != nil {
		return uuid.Nil, f.enqueueErr
	}
	f.jobs = append(f.jobs, enqueued{kind: kind, payload: payload})
	return uuid.New(), nil
}

func (f *fakeQueue) Dequeue(context.Context, []storage.JobKind, time.Duration) (*storage.Job, error) {
	return nil, nil
}

func (f *fakeQueue) Ack(context.Context, uuid.UUID, storage.JobStatus, string) error { return nil }

func (f *fakeQueue) GetJob(context.Context, uuid.UUID) (storage.Job, error) {
	return storage.Job{}, storage.ErrJobNotFound
}

func (f *fakeQueue) CountUnfinishedChildren(context.Context, uuid.UUID) (int64, error) {
	return 0, nil
}

func (f *fakeQueue) CountFailedChildren(context.Context, uuid.UUID) (int64, error) { return 0, nil }

func (f *fakeQueue) CountAllChildren(context.Context, uuid.UUID) (int64, error) { return 0, nil }

func (f *fakeQueue) HasUnfinished(context.Context, storage.JobKind) (bool, error) { return false, nil }

func (f *fakeQueue) ReapStale(context.Context) (int64, error) { return 0, nil }

type fakeProducts struct {
	known map[int64]storage.Product
}

func (f *fakeProducts) CreateProduct(_ context.Context, p storage.Product) (storage.Product, error) {
	return p, nil
}

func (f *fakeProducts) ListActiveProducts(context.Context) ([]storage.Product, error) {
	return nil, nil
}

func (f *fakeProducts) ListProducts(context.Context) ([]storage.Product, error) { return nil, nil }

func (f *fakeProducts) GetProduct(_ context.Context, id int64) (storage.Product, error) {
	p, ok := f.known[id]
	if !ok {
		return storage.Product{}, storage.ErrProductNotFound
	}
	return p, nil
}

func (f *fakeProducts) SetProductActive(context.Context, int64, bool) error { return nil }

func (f *fakeProducts) MarkProductChecked(context.Context, int64, time.Time, bool) error { return nil }

func (f *fakeProducts) DeleteProduct(context.Context, int64) error { return nil }

func newTestServer(queue *fakeQueue, products *fakeProducts) *Server {
	return New("127.0.0.1:0", queue, products, nil, zerolog.Nop())
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestCheckPriceByProduct(t *testing.T) {
	queue := &fakeQueue{}
	products := &fakeProducts{known: map[int64]storage.Product{1: {ID: 1, URL: "https://shop.example/w"}}}
	s := newTestServer(queue, products)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/check-price", map[string]any{"product_id": 1})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, storage.JobKindCheck, queue.jobs[0].kind)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["job_id"])
}

func TestCheckPriceUnknownProduct(t *testing.T) {
	s := newTestServer(&fakeQueue{}, &fakeProducts{known: map[int64]storage.Product{}})

	rec := doJSON(t, s, http.MethodPost, "/api/v1/check-price", map[string]any{"product_id": 42})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckPriceMissingTarget(t *testing.T) {
	s := newTestServer(&fakeQueue{}, &fakeProducts{})

	rec := doJSON(t, s, http.MethodPost, "/api/v1/check-price", map[string]any{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckPriceAdHocURL(t *testing.T) {
	queue := &fakeQueue{}
	s := newTestServer(queue, &fakeProducts{})

	rec := doJSON(t, s, http.MethodPost, "/api/v1/check-price", map[string]any{"url": "https://shop.example/adhoc"})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, queue.jobs, 1)
}

func TestSendDigest(t *testing.T) {
	queue := &fakeQueue{}
	s := newTestServer(queue, &fakeProducts{})

	rec := doJSON(t, s, http.MethodPost, "/api/v1/send-digest", nil)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, storage.JobKindDigest, queue.jobs[0].kind)

	payload, ok := queue.jobs[0].payload.(storage.DigestPayload)
	require.True(t, ok)
	assert.Equal(t, "api", payload.TriggeredBy)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(&fakeQueue{}, &fakeProducts{})

	rec := doJSON(t, s, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
