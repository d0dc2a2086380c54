// Package codec frames the chat protocol: one message per line, a keyword
// optionally followed by a single space and a JSON payload.
package codec

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/DoyleJ11/chatduel/internal/types"
)

// MaxLineSize bounds a single inbound line.
const MaxLineSize = 1 << 20

var (
	ErrMalformed = errors.New("malformed payload")

	// ErrLineTooLong reports a line over MaxLineSize. The line is skipped
	// through its terminator and the Reader stays usable.
	ErrLineTooLong = errors.New("line too long")
)

// Message is one decoded line. Keyword keeps the case the peer sent.
type Message struct {
	Keyword string
	Payload string
}

// Command resolves the keyword against the known set.
func (m Message) Command() (types.Command, bool) {
	return types.ParseCommand(m.Keyword)
}

// Reader yields messages from a byte stream. Partial reads are buffered
// until a terminator arrives; "\n" and "\r\n" are both accepted.
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// Next blocks until a full line is available. It returns io.EOF when the
// stream ends cleanly; a trailing unterminated line is still returned.
func (r *Reader) Next() (Message, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := r.br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(bytes.TrimRight(chunk, "\r\n")) > MaxLineSize {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}

		switch {
		case err == nil:
			if tooLong {
				return Message{}, ErrLineTooLong
			}
			return Parse(string(line[:len(line)-1])), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			return Parse(string(line)), nil
		default:
			return Message{}, err
		}
	}
}

// Parse splits a line into keyword and raw payload.
func Parse(line string) Message {
	line = strings.TrimSuffix(line, "\r")
	keyword, payload, _ := strings.Cut(line, " ")
	return Message{Keyword: strings.TrimSpace(keyword), Payload: payload}
}

// Encode renders one line. A nil payload emits the bare keyword.
func Encode(cmd types.Command, payload any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(string(cmd))
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", cmd, err)
		}
		buf.WriteByte(' ')
		buf.Write(body)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Decode fills v from a raw payload. An empty payload is treated as "{}".
// Unknown fields and trailing data are rejected.
func Decode(raw string, v any) error {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	return nil
}
