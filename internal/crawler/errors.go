package crawler

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindCaptcha      ErrorKind = "CaptchaEncountered"
	KindGotBlocked   ErrorKind = "GotBlocked"
	KindNotFound     ErrorKind = "PageNotFound"
	KindIllFormatted ErrorKind = "IllFormattedPage"
	KindUnknown      ErrorKind = "UnknownCrawlError"
)

var (
	ErrCaptcha      = errors.New("captcha encountered")
	ErrBlocked      = errors.New("blocked by anti-bot protection")
	ErrNotFound     = errors.New("page not found")
	ErrIllFormatted = errors.New("ill-formatted page")
	ErrUnknown      = errors.New("unknown crawl error")
)

var kindSentinels = map[ErrorKind]error{
	KindCaptcha:      ErrCaptcha,
	KindGotBlocked:   ErrBlocked,
	KindNotFound:     ErrNotFound,
	KindIllFormatted: ErrIllFormatted,
	KindUnknown:      ErrUnknown,
}

// Retryable reports whether a unit failing with this kind may be attempted
// again. Content faults are terminal on first sight.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNotFound, KindIllFormatted:
		return false
	default:
		return true
	}
}

func (k ErrorKind) AntiBot() bool {
	return k == KindCaptcha || k == KindGotBlocked
}

// CrawlError is a classified fault. errors.Is matches both the kind's
// sentinel and the wrapped cause.
type CrawlError struct {
	Kind    ErrorKind
	URL     string
	Status  int
	Message string
	Err     error
}

func NewCrawlError(kind ErrorKind, url string, status int, message string, cause error) *CrawlError {
	return &CrawlError{Kind: kind, URL: url, Status: status, Message: message, Err: cause}
}

func (e *CrawlError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d) at %s: %s", e.Kind, e.Status, e.URL, msg)
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.URL, msg)
}

func (e *CrawlError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		errs = append(errs, sentinel)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the kind of the first CrawlError in err's chain.
func KindOf(err error) ErrorKind {
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IllFormatted is a convenience for strategies reporting a missing structural
// element.
func IllFormatted(url, format string, args ...any) *CrawlError {
	return NewCrawlError(KindIllFormatted, url, 0, fmt.Sprintf(format, args...), ErrElementNotFound)
}

// NotFound is a convenience for strategies that detect a removed product.
func NotFound(url, format string, args ...any) *CrawlError {
	return NewCrawlError(KindNotFound, url, 0, fmt.Sprintf(format, args...), nil)
}
