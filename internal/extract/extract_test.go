package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func ptr(v int64) *int64 { return &v }

type stubStatic struct {
	result Result
	err    error
	calls  int
}

func (s *stubStatic) Fetch(ctx context.Context, url string) (Result, error) {
	s.calls++
	return s.result, s.err
}

type stubRenderer struct {
	html  string
	err   error
	calls int
}

func (s *stubRenderer) Render(ctx context.Context, url string) (string, error) {
	s.calls++
	return s.html, s.err
}

type stubAI struct {
	result Result
	err    error
	calls  int
}

func (s *stubAI) ExtractStructured(ctx context.Context, html string) (Result, error) {
	s.calls++
	return s.result, s.err
}

const completePage = `<html><head><title>ignored</title></head><body>
<h1 itemprop="name">Widget Deluxe</h1>
<span itemprop="price">$49.99</span>
</body></html>`

func TestExtractStaticComplete(t *testing.T) {
	static := &stubStatic{result: Result{Title: "Widget", Price: ptr(4999), Currency: "USD"}}
	rendered := &stubRenderer{}

	chain := New(static, rendered, nil, nil, testLogger())
	result, err := chain.Extract(context.Background(), "https://shop.example/w")

	require.NoError(t, err)
	assert.Equal(t, TierStatic, result.Tier)
	assert.Equal(t, 0, rendered.calls, "complete static result must not escalate")
}

func TestExtractIncompleteStaticEscalates(t *testing.T) {
	// Static loads but finds only a title: silent escalation to rendered.
	static := &stubStatic{result: Result{Title: "Widget"}}
	rendered := &stubRenderer{html: completePage}

	chain := New(static, rendered, nil, nil, testLogger())
	result, err := chain.Extract(context.Background(), "https://shop.example/w")

	require.NoError(t, err)
	assert.Equal(t, TierRendered, result.Tier)
	assert.Equal(t, "Widget Deluxe", result.Title)
	require.NotNil(t, result.Price)
	assert.Equal(t, int64(4999), *result.Price)
	assert.Equal(t, 1, rendered.calls)
}

func TestExtractStaticErrorEscalates(t *testing.T) {
	static := &stubStatic{err: &Error{Kind: KindBotWall, Tier: TierStatic}}
	rendered := &stubRenderer{html: completePage}

	chain := New(static, rendered, nil, nil, testLogger())
	result, err := chain.Extract(context.Background(), "https://shop.example/w")

	require.NoError(t, err)
	assert.Equal(t, TierRendered, result.Tier)
}

func TestExtractStaticErrorNoRenderedTier(t *testing.T) {
	static := &stubStatic{err: &Error{Kind: KindTimeout, Tier: TierStatic}}

	chain := New(static, nil, nil, nil, testLogger())
	_, err := chain.Extract(context.Background(), "https://shop.example/w")

	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Equal(t, TierStatic, TierOf(err))
}

func TestExtractRenderedAIFallbackStaysTierRendered(t *testing.T) {
	static := &stubStatic{result: Result{}}
	rendered := &stubRenderer{html: "<html><body>nothing scannable</body></html>"}
	ai := &stubAI{result: Result{Title: "Widget", Price: ptr(4999), Currency: "USD"}}

	chain := New(static, rendered, nil, ai, testLogger())
	result, err := chain.Extract(context.Background(), "https://shop.example/w")

	require.NoError(t, err)
	assert.Equal(t, TierRendered, result.Tier)
	assert.Equal(t, 1, ai.calls)
}

func TestExtractRenderedLoadFailureWithoutCloud(t *testing.T) {
	static := &stubStatic{result: Result{}}
	rendered := &stubRenderer{err: &Error{Kind: KindTimeout, Tier: TierRendered}}
	ai := &stubAI{}

	chain := New(static, rendered, nil, ai, testLogger())
	_, err := chain.Extract(context.Background(), "https://shop.example/w")

	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Equal(t, TierRendered, TierOf(err))
	assert.Equal(t, 0, ai.calls, "cloud tier absent, nothing more to try")
}

func TestExtractCloudOnlyOnLoadFailure(t *testing.T) {
	static := &stubStatic{result: Result{}}
	rendered := &stubRenderer{err: &Error{Kind: KindBotWall, Tier: TierRendered}}
	cloud := &stubRenderer{html: "<html><body>rendered remotely</body></html>"}
	ai := &stubAI{result: Result{Title: "Widget", Price: ptr(4999)}}

	chain := New(static, rendered, cloud, ai, testLogger())
	result, err := chain.Extract(context.Background(), "https://shop.example/w")

	require.NoError(t, err)
	assert.Equal(t, TierCloud, result.Tier)
	assert.Equal(t, 1, cloud.calls)
}

func TestExtractCloudSkippedOnNoData(t *testing.T) {
	// A loaded page with nothing extractable is terminal at the rendered
	// tier; the cloud browser would see the same content.
	static := &stubStatic{result: Result{}}
	rendered := &stubRenderer{html: "<html><body>no price here</body></html>"}
	cloud := &stubRenderer{html: completePage}
	ai := &stubAI{err: errors.New("model unavailable")}

	chain := New(static, rendered, cloud, ai, testLogger())
	_, err := chain.Extract(context.Background(), "https://shop.example/w")

	require.Error(t, err)
	assert.Equal(t, TierRendered, TierOf(err))
	assert.Equal(t, 0, cloud.calls)
}

func TestExtractCloudFailureTaggedTierCloud(t *testing.T) {
	static := &stubStatic{result: Result{}}
	rendered := &stubRenderer{err: &Error{Kind: KindNetwork, Tier: TierRendered}}
	cloud := &stubRenderer{err: &Error{Kind: KindProvider, Tier: TierCloud}}

	chain := New(static, rendered, cloud, &stubAI{}, testLogger())
	_, err := chain.Extract(context.Background(), "https://shop.example/w")

	require.Error(t, err)
	assert.Equal(t, KindProvider, KindOf(err))
	assert.Equal(t, TierCloud, TierOf(err))
}

func TestExtractNoAIMeansNoData(t *testing.T) {
	static := &stubStatic{result: Result{}}
	rendered := &stubRenderer{html: "<html><body>blank</body></html>"}

	chain := New(static, rendered, nil, nil, testLogger())
	_, err := chain.Extract(context.Background(), "https://shop.example/w")

	require.Error(t, err)
	assert.Equal(t, KindNoData, KindOf(err))
	assert.Equal(t, TierRendered, TierOf(err))
}

func TestKindOfUntypedError(t *testing.T) {
	assert.Equal(t, KindProvider, KindOf(errors.New("boom")))
	assert.Equal(t, Tier(0), TierOf(errors.New("boom")))
}
