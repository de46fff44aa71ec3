package crawler

import (
	"context"
	"errors"
	"time"
)

// Backend selects the capability a site is crawled with.
type Backend string

const (
	BackendBrowser  Backend = "browser"
	BackendDocument Backend = "document"
)

var (
	ErrUnsupported     = errors.New("operation not supported by backend")
	ErrElementNotFound = errors.New("element not found")
)

// Node is a DOM element handle. Query returns ErrElementNotFound when the
// selector matches nothing.
type Node interface {
	Text(ctx context.Context) (string, error)
	Attr(ctx context.Context, name string) (string, bool, error)
	Query(ctx context.Context, selector string) (Node, error)
	QueryAll(ctx context.Context, selector string) ([]Node, error)
}

// Page is a navigated document, either rendered by a browser or fetched and
// parsed statically. The document backend returns ErrUnsupported from
// Evaluate and Screenshot.
type Page interface {
	Node
	URL() string
	Status() int
	Headers() map[string]string
	Title(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string, arg ...any) (any, error)
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Session is one network identity: a proxy plus the cookies and browser
// context bound to it. A retired session is never handed out again.
type Session interface {
	ID() string
	ProxyURL() string
	Navigate(ctx context.Context, url string) (Page, error)
	Retire()
	Retired() bool
	Close() error
}

type SessionProvider interface {
	Acquire(ctx context.Context, retailer string, backend Backend) (Session, error)
	Release(session Session)
}

// Text returns the trimmed text of the first match of selector under n, or ""
// when nothing matches.
func Text(ctx context.Context, n Node, selector string) (string, error) {
	child, err := n.Query(ctx, selector)
	if errors.Is(err, ErrElementNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return child.Text(ctx)
}

// Attr returns the attribute of the first match of selector under n.
func Attr(ctx context.Context, n Node, selector, name string) (string, error) {
	child, err := n.Query(ctx, selector)
	if errors.Is(err, ErrElementNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	v, _, err := child.Attr(ctx, name)
	return v, err
}
