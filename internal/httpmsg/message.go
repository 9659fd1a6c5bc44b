// Package httpmsg implements the HTTP/1.x framing the control point
// needs when it can't hand a byte slice to net/http: SSDP datagrams
// (UDP, no framed connection at all). GENA NOTIFY requests are served
// by net/http and do not pass through it. It covers request and
// response start lines,
// case-insensitive but case-preserving headers, and Content-Length or
// chunked bodies.
package httpmsg

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/navidrome/upnpcp/internal/upnperrors"
)

// Header is one name/value pair, stored in the case it was first seen.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered, case-insensitively addressable header list.
type Headers struct {
	items []Header
}

// Get returns the first value for name, matched case-insensitively.
func (h *Headers) Get(name string) (string, bool) {
	for _, it := range h.items {
		if strings.EqualFold(it.Name, name) {
			return it.Value, true
		}
	}
	return "", false
}

// GetDefault returns Get's value or def when the header is absent.
func (h *Headers) GetDefault(name, def string) string {
	if v, ok := h.Get(name); ok {
		return v
	}
	return def
}

// Set replaces the first occurrence of name (preserving its original
// case) or appends a new header in the case given if none exists yet.
func (h *Headers) Set(name, value string) {
	for i := range h.items {
		if strings.EqualFold(h.items[i].Name, name) {
			h.items[i].Value = value
			return
		}
	}
	h.items = append(h.items, Header{Name: name, Value: value})
}

// Add always appends, allowing duplicate header names.
func (h *Headers) Add(name, value string) {
	h.items = append(h.items, Header{Name: name, Value: value})
}

// All returns the headers in first-seen order.
func (h *Headers) All() []Header { return h.items }

// RequestLine is the parsed first line of a request-form message.
type RequestLine struct {
	Method string
	URI    string
	Proto  string
}

// StatusLine is the parsed first line of a response-form message.
type StatusLine struct {
	Proto  string
	Code   int
	Reason string
}

// Message is the parsed form of one HTTP/1.x message, request or
// response. Exactly one of Request or Status is set.
type Message struct {
	Request *RequestLine
	Status  *StatusLine
	Headers Headers
	Body    []byte
}

// IsResponse reports whether this message carries a status line.
func (m *Message) IsResponse() bool { return m.Status != nil }

// KeepAlive implements HTTP/1.0's policy of keeping the connection
// alive only if explicitly asked to; HTTP/1.1 keeps it alive unless
// explicitly told to close.
func (m *Message) KeepAlive() bool {
	proto := ""
	if m.Request != nil {
		proto = m.Request.Proto
	} else if m.Status != nil {
		proto = m.Status.Proto
	}
	conn, _ := m.Headers.Get("Connection")
	conn = strings.ToLower(strings.TrimSpace(conn))
	if proto == "HTTP/1.0" {
		return conn == "keep-alive"
	}
	return conn != "close"
}

// Parse reads one HTTP/1.x message (request or response form) from r.
func Parse(r *bufio.Reader) (*Message, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, &upnperrors.MalformedMessage{Reason: "missing start line", Err: err}
	}
	msg := &Message{}
	if err := parseStartLine(line, msg); err != nil {
		return nil, err
	}
	if err := parseHeaders(r, &msg.Headers); err != nil {
		return nil, err
	}
	body, err := readBody(r, &msg.Headers)
	if err != nil {
		return nil, err
	}
	msg.Body = body
	return msg, nil
}

func parseStartLine(line string, msg *Message) error {
	parts := strings.Fields(line)
	if len(parts) < 3 {
		return &upnperrors.MalformedMessage{Reason: fmt.Sprintf("start line has %d tokens, want >= 3: %q", len(parts), line)}
	}
	if strings.HasPrefix(parts[0], "HTTP/") {
		code, err := strconv.Atoi(parts[1])
		if err != nil {
			return &upnperrors.MalformedMessage{Reason: "unparsable status code", Err: err}
		}
		msg.Status = &StatusLine{
			Proto:  parts[0],
			Code:   code,
			Reason: strings.Join(parts[2:], " "),
		}
		return nil
	}
	msg.Request = &RequestLine{
		Method: parts[0],
		URI:    parts[1],
		Proto:  parts[2],
	}
	return nil
}

func parseHeaders(r *bufio.Reader, h *Headers) error {
	for {
		line, err := readLine(r)
		if err != nil {
			return &upnperrors.MalformedMessage{Reason: "truncated headers", Err: err}
		}
		if line == "" {
			return nil
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			// UPnP producers occasionally send bare header tokens with no
			// colon at all (e.g. "EXT", or "MAN" variants); tolerate a
			// value-less header.
			h.Add(strings.TrimSpace(line), "")
			continue
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		h.Add(name, value)
	}
}

func readBody(r *bufio.Reader, h *Headers) ([]byte, error) {
	if te, ok := h.Get("Transfer-Encoding"); ok && strings.EqualFold(strings.TrimSpace(te), "chunked") {
		return readChunkedBody(r, h)
	}
	if clStr, ok := h.Get("Content-Length"); ok {
		cl, err := strconv.Atoi(strings.TrimSpace(clStr))
		if err != nil {
			return nil, &upnperrors.MalformedMessage{Reason: "unparsable Content-Length", Err: err}
		}
		if cl == 0 {
			return nil, nil
		}
		buf := make([]byte, cl)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, &upnperrors.MalformedMessage{Reason: "unexpected EOF reading body", Err: err}
		}
		return buf, nil
	}
	return nil, nil
}

func readChunkedBody(r *bufio.Reader, trailers *Headers) ([]byte, error) {
	var out bytes.Buffer
	for {
		sizeLine, err := readLine(r)
		if err != nil {
			return nil, &upnperrors.MalformedMessage{Reason: "truncated chunk size line", Err: err}
		}
		if idx := strings.IndexByte(sizeLine, ';'); idx >= 0 {
			sizeLine = sizeLine[:idx]
		}
		size, err := strconv.ParseInt(strings.TrimSpace(sizeLine), 16, 64)
		if err != nil {
			return nil, &upnperrors.MalformedMessage{Reason: fmt.Sprintf("unparsable chunk size %q", sizeLine), Err: err}
		}
		if size == 0 {
			// Trailing headers, if any, followed by the final blank line.
			if err := parseHeaders(r, trailers); err != nil {
				return nil, err
			}
			return out.Bytes(), nil
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, &upnperrors.MalformedMessage{Reason: "unexpected EOF mid chunk", Err: err}
		}
		out.Write(buf)
		if _, err := readLine(r); err != nil {
			return nil, &upnperrors.MalformedMessage{Reason: "missing chunk trailer CRLF", Err: err}
		}
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// WriteRequest serializes a request-form message.
func WriteRequest(w io.Writer, method, uri, proto string, h Headers, body []byte) error {
	if _, err := fmt.Fprintf(w, "%s %s %s\r\n", method, uri, proto); err != nil {
		return err
	}
	return writeHeadersAndBody(w, h, body)
}

// WriteResponse serializes a response-form message.
func WriteResponse(w io.Writer, proto string, code int, reason string, h Headers, body []byte) error {
	if _, err := fmt.Fprintf(w, "%s %d %s\r\n", proto, code, reason); err != nil {
		return err
	}
	return writeHeadersAndBody(w, h, body)
}

func writeHeadersAndBody(w io.Writer, h Headers, body []byte) error {
	for _, hd := range h.items {
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", hd.Name, hd.Value); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}
