// Package sse reads line-delimited server-sent event payloads.
package sse

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// DoneSentinel terminates OpenAI-style streams.
const DoneSentinel = "[DONE]"

// Reader extracts data: payloads from an event stream. Partial lines are buffered across reads.
type Reader struct {
	reader *bufio.Reader
	closer io.Closer
	done   bool
}

// NewReader wraps a streaming response body.
func NewReader(body io.ReadCloser) *Reader {
	return &Reader{
		reader: bufio.NewReaderSize(body, 64<<10),
		closer: body,
	}
}

// Next returns the next data payload. It returns io.EOF at the sentinel or the end of the body.
func (r *Reader) Next() (string, error) {
	for {
		if r.done {
			return "", io.EOF
		}
		line, err := r.reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return "", err
			}
			r.done = true
			if strings.TrimSpace(line) == "" {
				return "", io.EOF
			}
		}
		payload, ok := dataPayload(line)
		if !ok {
			continue
		}
		if payload == DoneSentinel {
			r.done = true
			return "", io.EOF
		}
		return payload, nil
	}
}

// Close releases the underlying body.
func (r *Reader) Close() error {
	r.done = true
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func dataPayload(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" {
		return "", false
	}
	return payload, true
}
