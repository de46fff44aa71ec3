package crawler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	navErr := errors.New("net::ERR_TIMED_OUT")
	missing := fmt.Errorf("%w: h1", ErrElementNotFound)

	tests := []struct {
		name  string
		fault error
		state PageState
		want  ErrorKind
	}{
		{"too many requests", nil, PageState{Status: 429}, KindCaptcha},
		{"not found", nil, PageState{Status: 404}, KindNotFound},
		{"gone", nil, PageState{Status: 410}, KindNotFound},
		{"forbidden", nil, PageState{Status: 403}, KindGotBlocked},
		{"cloudflare challenge header", nil, PageState{Status: 200, Headers: map[string]string{"CF-Mitigated": "Challenge"}}, KindGotBlocked},
		{"missing element on loaded page", missing, PageState{Status: 200}, KindIllFormatted},
		{"missing element on error page", missing, PageState{Status: 500}, KindUnknown},
		{"navigation error", navErr, PageState{}, KindUnknown},
		{"typed error passes through", NotFound("https://shop.se/p", "discontinued"), PageState{Status: 200}, KindNotFound},
		{"status wins over element fault", missing, PageState{Status: 404}, KindNotFound},
	}

	c := NewClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.state.URL = "https://shop.se/p"
			got := c.Classify(tt.fault, tt.state)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, "https://shop.se/p", got.URL)
			var typed *CrawlError
			if tt.fault != nil && !errors.As(tt.fault, &typed) {
				assert.ErrorIs(t, got, tt.fault)
			}
		})
	}
}

func TestClassify_CleanPageIsNil(t *testing.T) {
	c := NewClassifier()
	assert.Nil(t, c.Classify(nil, PageState{URL: "https://shop.se/p", Status: 200}))
	assert.Nil(t, c.Classify(nil, PageState{URL: "https://shop.se/p", Status: 503}))
}

func TestClassify_SiteRulesFirst(t *testing.T) {
	c := NewClassifier(
		TitleRule("perimeterx", "Access to this page has been denied", KindCaptcha),
		StatusRule("soft not found", 403, KindNotFound),
	)

	assert.Equal(t, []string{"perimeterx", "soft not found", "typed error"}, c.Rules()[:3])

	got := c.Classify(nil, PageState{Status: 403, Title: "Access to this page has been denied."})
	require.NotNil(t, got)
	assert.Equal(t, KindCaptcha, got.Kind)

	got = c.Classify(nil, PageState{Status: 403})
	require.NotNil(t, got)
	assert.Equal(t, KindNotFound, got.Kind)
}

func TestClassify_URLRule(t *testing.T) {
	isProduct := func(u string) bool { return len(u) > 0 && u[len(u)-5:] == ".html" }
	c := NewClassifier(URLRule("redirected off product", isProduct, KindNotFound))

	assert.Nil(t, c.Classify(nil, PageState{URL: "https://shop.se/p/chair.html", Status: 200}))

	got := c.Classify(nil, PageState{URL: "https://shop.se/category", Status: 200})
	require.NotNil(t, got)
	assert.Equal(t, KindNotFound, got.Kind)
}

func TestClassify_TypedErrorKeepsMessage(t *testing.T) {
	c := NewClassifier()
	in := IllFormatted("", "price missing")

	got := c.Classify(in, PageState{URL: "https://shop.se/p", Status: 200})

	require.NotNil(t, got)
	assert.Equal(t, KindIllFormatted, got.Kind)
	assert.Equal(t, "price missing", got.Message)
	assert.Equal(t, 200, got.Status)
	assert.Equal(t, "https://shop.se/p", got.URL)
	assert.ErrorIs(t, got, ErrIllFormatted)
	assert.ErrorIs(t, got, ErrElementNotFound)
}

func TestErrorKind_Retryable(t *testing.T) {
	assert.True(t, KindCaptcha.Retryable())
	assert.True(t, KindGotBlocked.Retryable())
	assert.True(t, KindUnknown.Retryable())
	assert.False(t, KindNotFound.Retryable())
	assert.False(t, KindIllFormatted.Retryable())
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("attempt failed: %w", NewCrawlError(KindGotBlocked, "u", 403, "blocked", nil))
	assert.Equal(t, KindGotBlocked, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}
