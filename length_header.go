package cerise

import (
	"fmt"
	"strconv"
)

// MaxBulkStringLength is the largest bulk payload the decoder will accept,
// matching the 512 MiB proto-max-bulk-len default of the servers this
// client talks to. Headers announcing more are a FramingError, never
// ErrInsufficientData.
var MaxBulkStringLength = int64(512 * 1024 * 1024)

// MaxArrayLength is the largest element count the decoder will accept in an
// array header, as a guard against a corrupt header causing a huge
// allocation before any element bytes are validated.
var MaxArrayLength = int64(1024 * 1024)

// readLengthHeader parses a signed decimal length header: marker byte,
// digits, CRLF. The shortest complete header is 4 bytes (e.g. `$0\r\n`).
// -1 is the null sentinel; any other negative value, a non-numeric body, or
// a value beyond max is a framing violation.
func (rd *ReplyDecoder) readLengthHeader(marker byte, max int64) (int64, error) {
	if rd.Remaining() < 4 {
		return -1, ErrInsufficientData
	}
	if b := rd.raw[rd.off]; b != marker {
		return -1, FramingError{fmt.Sprintf("expected length header %q at offset %d, got %q", marker, rd.off, b)}
	}
	rd.off++
	body, err := rd.scanLine()
	if err != nil {
		return -1, err
	}
	n, err := strconv.ParseInt(string(body), 10, 64)
	if err != nil {
		return -1, FramingError{fmt.Sprintf("malformed length header %q", body)}
	}
	switch {
	case n < -1:
		return -1, FramingError{fmt.Sprintf("negative length %d in header", n)}
	case n > max:
		return -1, FramingError{fmt.Sprintf("length %d exceeds maximum %d", n, max)}
	}
	return n, nil
}

func (rd *ReplyDecoder) readBulkLength() (int64, error) {
	return rd.readLengthHeader(bulkStringMarker, MaxBulkStringLength)
}

func (rd *ReplyDecoder) readArrayLength() (int64, error) {
	return rd.readLengthHeader(arrayMarker, MaxArrayLength)
}
