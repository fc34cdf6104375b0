package http1

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var errChunkFormat = fmt.Errorf("%w: invalid chunk format", ErrMalformed)

// chunkedBody implements io.ReadCloser for Transfer-Encoding: chunked.
type chunkedBody struct {
	br       *bufio.Reader
	remain   int64
	finished bool
	err      error
	maxLine  int // line limit for chunk header and trailer lines
}

func newChunkedBody(br *bufio.Reader, maxLine int) io.ReadCloser {
	return &chunkedBody{br: br, remain: -1, maxLine: maxLine}
}

func (c *chunkedBody) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.read(p)
	if err != nil && err != io.EOF {
		c.err = err
	}
	return n, err
}

func (c *chunkedBody) read(p []byte) (int, error) {
	if c.finished {
		return 0, io.EOF
	}
	// If no remaining bytes in current chunk, read next chunk size
	if c.remain <= 0 {
		size, err := c.readChunkSize()
		if err != nil {
			return 0, err
		}
		if size == 0 {
			if err := c.readTrailers(); err != nil {
				return 0, err
			}
			c.finished = true
			return 0, io.EOF
		}
		c.remain = size
	}
	if len(p) == 0 {
		return 0, nil
	}
	toRead := int64(len(p))
	if toRead > c.remain {
		toRead = c.remain
	}
	n, err := io.ReadFull(c.br, p[:toRead])
	c.remain -= int64(n)
	if err != nil {
		return n, unexpected(err)
	}
	// If we consumed this chunk, expect CRLF boundary
	if c.remain == 0 {
		if err := c.expectCRLF(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (c *chunkedBody) Close() error {
	// Drain to end so connection can be reused
	_, err := io.Copy(io.Discard, c)
	return err
}

func (c *chunkedBody) readChunkSize() (int64, error) {
	line, err := readLineLimit(c.br, c.maxLine)
	if err != nil {
		return 0, unexpected(err)
	}
	// Strip chunk extensions if any: "<hex>;<ext>"
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimRight(line, " \t")
	if line == "" || !isHexDigit(line[0]) {
		return 0, errChunkFormat
	}
	n, err := strconv.ParseInt(line, 16, 64)
	if err != nil || n < 0 {
		return 0, errChunkFormat
	}
	return n, nil
}

func (c *chunkedBody) expectCRLF() error {
	b1, err := c.br.ReadByte()
	if err != nil {
		return unexpected(err)
	}
	b2, err := c.br.ReadByte()
	if err != nil {
		return unexpected(err)
	}
	if b1 != '\r' || b2 != '\n' {
		return fmt.Errorf("%w: expected CRLF after chunk, got %q%q", ErrMalformed, b1, b2)
	}
	return nil
}

func (c *chunkedBody) readTrailers() error {
	for {
		line, err := readLineLimit(c.br, c.maxLine)
		if err != nil {
			return unexpected(err)
		}
		if line == "" {
			return nil
		}
		// Trailer fields are discarded.
	}
}

// readLineLimit reads one CRLF or LF terminated line without the terminator.
// A stream ending before the first byte yields io.EOF, mid-line
// io.ErrUnexpectedEOF.
func readLineLimit(br *bufio.Reader, limit int) (string, error) {
	var sb strings.Builder
	read := 0
	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF && read > 0 {
				err = io.ErrUnexpectedEOF
			}
			return "", err
		}
		read++
		if b == '\n' {
			break
		}
		if b == '\r' {
			// CR is only valid as part of the CRLF terminator.
			next, err := br.ReadByte()
			if err != nil {
				return "", unexpected(err)
			}
			if next != '\n' {
				return "", fmt.Errorf("%w: bare CR in line", ErrMalformed)
			}
			break
		}
		sb.WriteByte(b)
		if limit > 0 && sb.Len() > limit {
			return "", ErrHeaderTooLarge
		}
	}
	return sb.String(), nil
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
