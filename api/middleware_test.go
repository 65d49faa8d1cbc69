package api

import (
	"errors"
	"testing"
)

type closeRecorder struct {
	closed bool
	err    error
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return c.err
}

func TestHasGzipEncoding(t *testing.T) {
	tests := map[string]bool{
		"":              false,
		"identity":      false,
		"gzip":          true,
		"GZIP":          true,
		"br, gzip":      true,
		"deflate,  br ": false,
	}
	for header, want := range tests {
		if got := hasGzipEncoding(header); got != want {
			t.Fatalf("hasGzipEncoding(%q) = %v, want %v", header, got, want)
		}
	}
}

func TestGzipReadCloserClose(t *testing.T) {
	if err := (&gzipReadCloser{}).Close(); err != nil {
		t.Fatalf("closing an empty reader: %v", err)
	}

	body := &closeRecorder{err: errors.New("boom")}
	err := (&gzipReadCloser{body: body}).Close()
	if !body.closed {
		t.Fatalf("underlying body not closed")
	}
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected body close error, got %v", err)
	}
}
