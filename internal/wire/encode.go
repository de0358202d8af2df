package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// Long-poll timeout rewrite. Clients ask for the default 30s long-poll on
// sync-style endpoints; at 30s the host's idle-unload policy can tear the
// interception layer down mid-request, so the value is capped to 20s before
// the frame is encoded. This is a special case for exactly this parameter,
// not a generic URL transform.
const (
	defaultLongPollTimeout = "timeout=30000"
	cappedLongPollTimeout  = "timeout=20000"
)

// ErrBodyNotAllowed is returned by Encode when a frame carries a body for a
// verb that does not permit one.
var ErrBodyNotAllowed = fmt.Errorf("wire: request body not allowed for this method")

// RewriteLongPollTimeout replaces every occurrence of the default long-poll
// timeout parameter in rawURL with the capped value. Any other occurrence
// of the bare number elsewhere in the URL is left untouched.
func RewriteLongPollTimeout(rawURL string) string {
	return strings.ReplaceAll(rawURL, defaultLongPollTimeout, cappedLongPollTimeout)
}

// Encode serializes a RequestFrame into its textual wire form:
//
//	METHOD URL HTTP/1.0\r\n
//	Name: Value\r\n ...
//	\r\n
//	BODY
//
// Header values are emitted verbatim with no escaping of colons or CRLF.
// That is deliberately fragile: the decoder on the embedded side depends on
// the exact byte format, so hardening here would break wire compatibility.
// Callers must not place untrusted text in header values.
//
// Content-Length is computed from the byte length of the body, not the
// character count, so multi-byte text is sized correctly. It is appended
// only when a body is present.
func Encode(f RequestFrame) (string, error) {
	if len(f.Body) > 0 && !MethodPermitsBody(f.Method) {
		return "", ErrBodyNotAllowed
	}

	var b strings.Builder
	b.WriteString(f.Method)
	b.WriteString(" ")
	b.WriteString(RewriteLongPollTimeout(f.URL))
	b.WriteString(" ")
	b.WriteString(Proto)
	b.WriteString("\r\n")

	for _, h := range f.Headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}

	if len(f.Body) > 0 {
		b.WriteString("Content-Length: ")
		b.WriteString(strconv.Itoa(len(f.Body)))
		b.WriteString("\r\n")
	}

	b.WriteString("\r\n")

	if len(f.Body) > 0 {
		b.Write(f.Body)
	}

	return b.String(), nil
}
