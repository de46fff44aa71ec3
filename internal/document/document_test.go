package document

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/shelf-crawler/internal/crawler"
)

const listingHTML = `<html><head><title> Soffor | Shop </title></head><body>
<div class="grid">
  <a class="card" href="/p/1"><span class="name">Sofa One</span></a>
  <a class="card" href="/p/2"><span class="name">Sofa Two</span></a>
</div>
<a class="next" href="/c?page=2">Next</a>
</body></html>`

func testSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession("doc-1", "", &Options{UserAgent: "test-agent", Timeout: 5 * time.Second}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func TestNavigate_ParsesDocument(t *testing.T) {
	var gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("X-Cache", "HIT")
		w.Write([]byte(listingHTML))
	}))
	defer srv.Close()

	ctx := context.Background()
	page, err := testSession(t).Navigate(ctx, srv.URL+"/c")
	require.NoError(t, err)
	defer page.Close()

	assert.Equal(t, "test-agent", gotAgent)
	assert.Equal(t, 200, page.Status())
	assert.Equal(t, srv.URL+"/c", page.URL())
	assert.Equal(t, "HIT", page.Headers()["X-Cache"])

	title, err := page.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Soffor | Shop", title)

	cards, err := page.QueryAll(ctx, "a.card")
	require.NoError(t, err)
	require.Len(t, cards, 2)

	href, ok, err := cards[1].Attr(ctx, "href")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/p/2", href)

	name, err := crawler.Text(ctx, cards[0], ".name")
	require.NoError(t, err)
	assert.Equal(t, "Sofa One", name)

	next, err := crawler.Attr(ctx, page, "a.next", "href")
	require.NoError(t, err)
	assert.Equal(t, "/c?page=2", next)
}

func TestNavigate_StatusIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("<html><body><h1>Not here</h1></body></html>"))
	}))
	defer srv.Close()

	page, err := testSession(t).Navigate(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 404, page.Status())
}

func TestNavigate_FollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>moved</body></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	page, err := testSession(t).Navigate(context.Background(), srv.URL+"/old")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/new", page.URL())
}

func TestSession_KeepsCookies(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("consent"); err == nil {
			seen = c.Value
		}
		http.SetCookie(w, &http.Cookie{Name: "consent", Value: "yes", Path: "/"})
		w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	s := testSession(t)
	_, err := s.Navigate(context.Background(), srv.URL)
	require.NoError(t, err)
	_, err = s.Navigate(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "yes", seen)
	assert.Equal(t, 2, s.Pages())
}

func TestPage_StaticCapabilities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listingHTML))
	}))
	defer srv.Close()

	ctx := context.Background()
	page, err := testSession(t).Navigate(ctx, srv.URL)
	require.NoError(t, err)

	_, err = page.Evaluate(ctx, "window.scrollY")
	assert.ErrorIs(t, err, crawler.ErrUnsupported)
	_, err = page.Screenshot(ctx)
	assert.ErrorIs(t, err, crawler.ErrUnsupported)

	assert.NoError(t, page.WaitFor(ctx, ".grid", time.Second))
	assert.ErrorIs(t, page.WaitFor(ctx, "#product", time.Second), crawler.ErrElementNotFound)

	_, err = page.Query(ctx, ".missing")
	assert.ErrorIs(t, err, crawler.ErrElementNotFound)
}

func TestSession_Retire(t *testing.T) {
	s := testSession(t)
	assert.False(t, s.Retired())
	s.Retire()
	assert.True(t, s.Retired())
	assert.Equal(t, "doc-1", s.ID())
}
