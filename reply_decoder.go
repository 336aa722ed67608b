package cerise

import (
	"errors"
	"fmt"
	"strings"
)

// Marker bytes identifying the five reply kinds.
const (
	simpleStringMarker byte = '+'
	integerMarker      byte = ':'
	bulkStringMarker   byte = '$'
	arrayMarker        byte = '*'
	errorMarker        byte = '-'
)

// nested text arrays are bounded so hostile input cannot exhaust the stack
const maxNestingDepth = 64

// ReplyDecoder decodes server replies from a contiguous byte buffer. The
// buffer is borrowed from the caller for the duration of the decode calls
// and may end mid-token: every public operation either succeeds and advances
// the internal cursor past the consumed token, returns ErrInsufficientData
// with the cursor restored to its value at entry (append more bytes, Reset,
// and retry the same call), or returns a FramingError.
//
// Each decode operation exists in an owned-text form and, for most kinds, a
// pooled-byte form that copies the payload into a buffer rented from the
// decoder's BufferPool instead of allocating a string. The two forms are
// never mixed within a single array decode.
//
// A ReplyDecoder holds no shared state and may be used from multiple
// goroutines only if each goroutine owns its own instance.
type ReplyDecoder struct {
	raw  []byte
	off  int
	pool BufferPool
}

// NewReplyDecoder returns a decoder drawing pooled results from the given
// pool, or from DefaultBufferPool if pool is nil.
func NewReplyDecoder(pool BufferPool) *ReplyDecoder {
	if pool == nil {
		pool = DefaultBufferPool
	}
	return &ReplyDecoder{pool: pool}
}

// Reset rebinds the decoder to buf and rewinds the cursor to its start. The
// decoder never grows or retains buf.
func (rd *ReplyDecoder) Reset(buf []byte) {
	rd.raw = buf
	rd.off = 0
}

// Offset returns the cursor position: the number of bytes consumed so far.
// A caller that owns the buffer can discard the consumed prefix between
// top-level decodes.
func (rd *ReplyDecoder) Offset() int {
	return rd.off
}

// Remaining returns the number of unconsumed bytes.
func (rd *ReplyDecoder) Remaining() int {
	return len(rd.raw) - rd.off
}

// PeekMarker returns the leading byte at the cursor without consuming it,
// for callers that do not know the reply kind ahead of time.
func (rd *ReplyDecoder) PeekMarker() (byte, error) {
	if rd.Remaining() < 1 {
		return 0, ErrInsufficientData
	}
	return rd.raw[rd.off], nil
}

// restore rewinds the cursor to start when err is ErrInsufficientData, so a
// retry after more bytes arrive re-decodes the token from its beginning. On
// a FramingError the cursor is left wherever the violation was detected;
// the stream is dead at that point anyway.
func (rd *ReplyDecoder) restore(start int, err error) error {
	if errors.Is(err, ErrInsufficientData) {
		rd.off = start
	}
	return err
}

// scanLine scans forward for the CRLF terminator, returning the bytes
// between the cursor and the terminator and leaving the cursor two bytes
// past it. A missing terminator is never a framing violation: the rest of
// the line may simply not have arrived yet.
func (rd *ReplyDecoder) scanLine() ([]byte, error) {
	if rd.Remaining() < 2 {
		return nil, ErrInsufficientData
	}
	start := rd.off
	for i := start; i < len(rd.raw)-1; i++ {
		if rd.raw[i] == '\r' && rd.raw[i+1] == '\n' {
			rd.off = i + 2
			return rd.raw[start:i], nil
		}
	}
	return nil, ErrInsufficientData
}

// scanScalar decodes one single-line token: marker byte, body, CRLF. The
// shortest such token is marker+CRLF, hence the 3-byte minimum.
func (rd *ReplyDecoder) scanScalar(marker byte) ([]byte, error) {
	if rd.Remaining() < 3 {
		return nil, ErrInsufficientData
	}
	if b := rd.raw[rd.off]; b != marker {
		return nil, FramingError{fmt.Sprintf("expected marker %q at offset %d, got %q", marker, rd.off, b)}
	}
	rd.off++
	return rd.scanLine()
}

// scanAnyScalar is the permissive variant used by the text-array element
// fallback: the marker byte is skipped without validation.
func (rd *ReplyDecoder) scanAnyScalar() ([]byte, error) {
	if rd.Remaining() < 3 {
		return nil, ErrInsufficientData
	}
	rd.off++
	return rd.scanLine()
}

// scanBulk decodes a length-prefixed payload: `$` header, exactly length
// bytes, CRLF. null reports the -1 sentinel with no payload consumed beyond
// the header.
func (rd *ReplyDecoder) scanBulk() (body []byte, null bool, err error) {
	n, err := rd.readBulkLength()
	if err != nil {
		return nil, false, err
	}
	if n == -1 {
		return nil, true, nil
	}
	length := int(n)
	if rd.Remaining() < length+2 {
		return nil, false, ErrInsufficientData
	}
	end := rd.off + length
	if rd.raw[end] != '\r' || rd.raw[end+1] != '\n' {
		return nil, false, FramingError{fmt.Sprintf(
			"bulk payload of %d bytes not terminated by CRLF at offset %d, got %q %q",
			length, end, rd.raw[end], rd.raw[end+1])}
	}
	body = rd.raw[rd.off:end]
	rd.off = end + 2
	return body, false, nil
}

// pooled copies body into a freshly rented buffer and wraps it in a handle
// the caller releases.
func (rd *ReplyDecoder) pooled(body []byte) *PooledBytes {
	buf := rd.pool.Rent(len(body))
	n := copy(buf, body)
	return &PooledBytes{pool: rd.pool, buf: buf, n: n}
}

// ReadSimpleString decodes a `+` reply into an owned string.
func (rd *ReplyDecoder) ReadSimpleString() (string, error) {
	start := rd.off
	body, err := rd.scanScalar(simpleStringMarker)
	if err != nil {
		return "", rd.restore(start, err)
	}
	return string(body), nil
}

// ReadSimpleStringBytes decodes a `+` reply into pooled memory.
func (rd *ReplyDecoder) ReadSimpleStringBytes() (*PooledBytes, error) {
	start := rd.off
	body, err := rd.scanScalar(simpleStringMarker)
	if err != nil {
		return nil, rd.restore(start, err)
	}
	return rd.pooled(body), nil
}

// ReadIntegerString decodes a `:` reply, keeping the body as text. Numeric
// interpretation is left to the caller.
func (rd *ReplyDecoder) ReadIntegerString() (string, error) {
	start := rd.off
	body, err := rd.scanScalar(integerMarker)
	if err != nil {
		return "", rd.restore(start, err)
	}
	return string(body), nil
}

// ReadIntegerBytes decodes a `:` reply into pooled memory.
func (rd *ReplyDecoder) ReadIntegerBytes() (*PooledBytes, error) {
	start := rd.off
	body, err := rd.scanScalar(integerMarker)
	if err != nil {
		return nil, rd.restore(start, err)
	}
	return rd.pooled(body), nil
}

// ReadErrorString decodes a `-` reply into an owned string.
func (rd *ReplyDecoder) ReadErrorString() (string, error) {
	start := rd.off
	body, err := rd.scanScalar(errorMarker)
	if err != nil {
		return "", rd.restore(start, err)
	}
	return string(body), nil
}

// ReadBulkString decodes a `$` reply into an owned string. A nil pointer is
// the null reply (`$-1`), distinct from a pointer to the empty string
// (`$0`).
func (rd *ReplyDecoder) ReadBulkString() (*string, error) {
	start := rd.off
	body, null, err := rd.scanBulk()
	if err != nil {
		return nil, rd.restore(start, err)
	}
	if null {
		return nil, nil
	}
	s := string(body)
	return &s, nil
}

// ReadBulkStringBytes decodes a `$` reply into pooled memory. A nil handle
// is the null reply.
func (rd *ReplyDecoder) ReadBulkStringBytes() (*PooledBytes, error) {
	start := rd.off
	body, null, err := rd.scanBulk()
	if err != nil {
		return nil, rd.restore(start, err)
	}
	if null {
		return nil, nil
	}
	return rd.pooled(body), nil
}

// ReadStringArray decodes a `*` reply into owned strings. A nil slice is
// the null reply (`*-1`), distinct from a non-nil empty slice (`*0`).
//
// Element kinds are dispatched on each element's leading byte: `$` bulk
// string (a null bulk flattens to ""), `+` simple string, `*` a nested
// array decoded recursively and joined into a single ", "-separated string
// (lossy: the nested element boundaries are not recoverable), and any other
// marker falls back to the single-line integer path with the marker byte
// accepted unvalidated.
func (rd *ReplyDecoder) ReadStringArray() ([]string, error) {
	start := rd.off
	out, err := rd.scanStringArray(0)
	if err != nil {
		return nil, rd.restore(start, err)
	}
	return out, nil
}

func (rd *ReplyDecoder) scanStringArray(depth int) ([]string, error) {
	if depth > maxNestingDepth {
		return nil, FramingError{fmt.Sprintf("array nesting exceeds %d levels", maxNestingDepth)}
	}
	n, err := rd.readArrayLength()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}
	out := make([]string, n)
	for i := range out {
		marker, err := rd.PeekMarker()
		if err != nil {
			return nil, err
		}
		switch marker {
		case bulkStringMarker:
			body, null, err := rd.scanBulk()
			if err != nil {
				return nil, err
			}
			if !null {
				out[i] = string(body)
			}
		case simpleStringMarker:
			body, err := rd.scanScalar(simpleStringMarker)
			if err != nil {
				return nil, err
			}
			out[i] = string(body)
		case arrayMarker:
			nested, err := rd.scanStringArray(depth + 1)
			if err != nil {
				return nil, err
			}
			out[i] = strings.Join(nested, ", ")
		default:
			body, err := rd.scanAnyScalar()
			if err != nil {
				return nil, err
			}
			out[i] = string(body)
		}
	}
	return out, nil
}

// ReadBytesArray decodes a `*` reply into pooled elements. A nil slice is
// the null reply; a null bulk element is a nil entry in the slice.
//
// Nested arrays are not supported in this form: a leading `*` on an element
// lands in the strict integer path and fails its marker check with a
// FramingError. On any error the already-rented elements are released
// before returning, so the caller never owns a partial result.
func (rd *ReplyDecoder) ReadBytesArray() ([]*PooledBytes, error) {
	start := rd.off
	n, err := rd.readArrayLength()
	if err != nil {
		return nil, rd.restore(start, err)
	}
	if n == -1 {
		return nil, nil
	}
	out := make([]*PooledBytes, n)
	for i := range out {
		elem, err := rd.scanBytesElement()
		if err != nil {
			for _, pb := range out[:i] {
				if pb != nil {
					pb.Release()
				}
			}
			return nil, rd.restore(start, err)
		}
		out[i] = elem
	}
	return out, nil
}

func (rd *ReplyDecoder) scanBytesElement() (*PooledBytes, error) {
	marker, err := rd.PeekMarker()
	if err != nil {
		return nil, err
	}
	switch marker {
	case bulkStringMarker:
		body, null, err := rd.scanBulk()
		if err != nil {
			return nil, err
		}
		if null {
			return nil, nil
		}
		return rd.pooled(body), nil
	case simpleStringMarker:
		body, err := rd.scanScalar(simpleStringMarker)
		if err != nil {
			return nil, err
		}
		return rd.pooled(body), nil
	default:
		body, err := rd.scanScalar(integerMarker)
		if err != nil {
			return nil, err
		}
		return rd.pooled(body), nil
	}
}
