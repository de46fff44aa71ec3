package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/shelf-crawler/internal/crawler"
)

type page struct {
	p       playwright.Page
	status  int
	headers map[string]string
}

func (pg *page) URL() string                { return pg.p.URL() }
func (pg *page) Status() int                { return pg.status }
func (pg *page) Headers() map[string]string { return pg.headers }

func (pg *page) Title(context.Context) (string, error) {
	return pg.p.Title()
}

func (pg *page) Text(ctx context.Context) (string, error) {
	v, err := pg.p.Evaluate("document.body ? document.body.innerText : ''")
	if err != nil {
		return "", fmt.Errorf("failed to read page text: %w", err)
	}
	s, _ := v.(string)
	return strings.TrimSpace(s), nil
}

func (pg *page) Attr(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func (pg *page) Query(_ context.Context, selector string) (crawler.Node, error) {
	h, err := pg.p.QuerySelector(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", selector, err)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: %s", crawler.ErrElementNotFound, selector)
	}
	return &element{h: h}, nil
}

func (pg *page) QueryAll(_ context.Context, selector string) ([]crawler.Node, error) {
	handles, err := pg.p.QuerySelectorAll(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", selector, err)
	}
	return wrap(handles), nil
}

func (pg *page) Evaluate(_ context.Context, script string, arg ...any) (any, error) {
	return pg.p.Evaluate(script, arg...)
}

func (pg *page) WaitFor(_ context.Context, selector string, timeout time.Duration) error {
	err := pg.p.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("failed waiting for %s: %w", selector, err)
	}
	return nil
}

func (pg *page) Screenshot(context.Context) ([]byte, error) {
	data, err := pg.p.Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(true)})
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}
	return data, nil
}

func (pg *page) Close() error {
	return pg.p.Close()
}

type element struct {
	h playwright.ElementHandle
}

func (e *element) Text(context.Context) (string, error) {
	s, err := e.h.TextContent()
	if err != nil {
		return "", fmt.Errorf("failed to read text: %w", err)
	}
	return strings.TrimSpace(s), nil
}

func (e *element) Attr(_ context.Context, name string) (string, bool, error) {
	v, err := e.h.GetAttribute(name)
	if err != nil {
		return "", false, fmt.Errorf("failed to read attribute %s: %w", name, err)
	}
	return v, v != "", nil
}

func (e *element) Query(_ context.Context, selector string) (crawler.Node, error) {
	h, err := e.h.QuerySelector(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", selector, err)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: %s", crawler.ErrElementNotFound, selector)
	}
	return &element{h: h}, nil
}

func (e *element) QueryAll(_ context.Context, selector string) ([]crawler.Node, error) {
	handles, err := e.h.QuerySelectorAll(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", selector, err)
	}
	return wrap(handles), nil
}

func wrap(handles []playwright.ElementHandle) []crawler.Node {
	nodes := make([]crawler.Node, 0, len(handles))
	for _, h := range handles {
		nodes = append(nodes, &element{h: h})
	}
	return nodes
}
