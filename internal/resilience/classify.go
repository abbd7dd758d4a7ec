package resilience

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Category buckets a failure by its likely cause
type Category string

const (
	CategoryTransient      Category = "transient"
	CategoryNetwork        Category = "network"
	CategoryTimeout        Category = "timeout"
	CategoryResource       Category = "resource"
	CategoryAuthentication Category = "authentication"
	CategoryValidation     Category = "validation"
	CategoryInternal       Category = "internal"
	CategoryUnknown        Category = "unknown"
)

// Suggested delays before retrying, per category. Categories absent
// here carry no suggestion.
var categoryDelays = map[Category]time.Duration{
	CategoryTransient: 5 * time.Second,
	CategoryNetwork:   1 * time.Second,
	CategoryTimeout:   5 * time.Second,
	CategoryResource:  10 * time.Second,
	CategoryInternal:  5 * time.Second,
}

// ClassifiedError annotates an error with its category and retry
// advice. It wraps the original error; errors.Is/As see through it.
type ClassifiedError struct {
	Original   error
	Category   Category
	Retryable  bool
	RetryAfter time.Duration
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s] %v", e.Category, e.Original)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Original
}

// exitCoder is implemented by command failures that carry an exit code
type exitCoder interface {
	ExitCode() int
}

// timeouter is implemented by timeout-flagged errors (net.Error,
// command.ExitError)
type timeouter interface {
	Timeout() bool
}

// matcher decides whether a rule applies. err is the unwrapped chain
// root for structural checks; msg is the lowercased message text.
type matcher func(err error, msg string) bool

type rule struct {
	match     matcher
	category  Category
	retryable bool
}

func substrings(subs ...string) matcher {
	return func(_ error, msg string) bool {
		for _, sub := range subs {
			if strings.Contains(msg, sub) {
				return true
			}
		}
		return false
	}
}

func pattern(expr string) matcher {
	re := regexp.MustCompile(expr)
	return func(_ error, msg string) bool {
		return re.MatchString(msg)
	}
}

// Classification rules, checked in order; first match wins.
var rules = []rule{
	// Structural checks first: they are cheaper and more reliable
	// than message text.
	{func(err error, _ string) bool {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var t timeouter
		return errors.As(err, &t) && t.Timeout()
	}, CategoryTimeout, true},
	{func(err error, _ string) bool {
		var ec exitCoder
		return errors.As(err, &ec) && ec.ExitCode() >= 500
	}, CategoryInternal, true},

	{substrings("rate limit", "too many requests", "429", "503", "service unavailable", "temporarily unavailable", "try again"), CategoryTransient, true},
	{substrings("connection refused", "connection reset", "no such host", "broken pipe", "network is unreachable", "unexpected eof", "i/o error"), CategoryNetwork, true},
	{substrings("timed out", "timeout", "deadline exceeded"), CategoryTimeout, true},
	{substrings("out of memory", "too many open files", "no space left", "resource exhausted", "quota exceeded", "disk full"), CategoryResource, true},
	{substrings("unauthorized", "forbidden", "authentication", "invalid credentials", "permission denied", "401", "403"), CategoryAuthentication, false},
	{substrings("validation", "invalid argument", "invalid input", "bad request", "malformed", "400"), CategoryValidation, false},
	{pattern(`\b5\d\d\b`), CategoryInternal, true},
	{substrings("internal error", "panic"), CategoryInternal, false},
}

// Classify derives a fresh classification for err. A nil error returns
// nil. No matching rule yields CategoryUnknown, not retryable.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	// Already classified: keep the existing verdict
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		if r.match(err, msg) {
			ce := &ClassifiedError{
				Original:  err,
				Category:  r.category,
				Retryable: r.retryable,
			}
			if r.retryable {
				ce.RetryAfter = categoryDelays[r.category]
			}
			return ce
		}
	}

	return &ClassifiedError{Original: err, Category: CategoryUnknown, Retryable: false}
}

// IsRetryable reports whether err classifies as retryable
func IsRetryable(err error) bool {
	ce := Classify(err)
	return ce != nil && ce.Retryable
}
