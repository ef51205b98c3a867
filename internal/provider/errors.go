package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"unicode/utf8"
)

// maxErrorMessageLen bounds the message stored in the recipient error ledger.
const maxErrorMessageLen = 1024

// SinkError is a failed send. Transient failures (timeouts, 429, 5xx, broker
// hiccups) may pass when the producer resubmits; permanent ones will not.
// Both are recorded as recipient errors.
type SinkError struct {
	Sink       string
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *SinkError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	if e.Sink != "" {
		b.WriteString(e.Sink)
		b.WriteString(" sink")
	} else {
		b.WriteString("sink")
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *SinkError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a send failure is worth retrying later.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET):
		return true
	}

	var sinkErr *SinkError
	if errors.As(err, &sinkErr) {
		return sinkErr.Transient
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ErrorMessage renders err for the recipient error ledger, cut to a bounded
// length on a rune boundary.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	if len(msg) <= maxErrorMessageLen {
		return msg
	}
	cut := maxErrorMessageLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + "..."
}
