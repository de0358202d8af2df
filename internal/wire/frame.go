// Package wire implements the textual frame codec used across the bridge
// boundary. Requests are serialized into a minimal HTTP/1.0-shaped line
// format the embedded server understands; responses come back in the same
// shape and are parsed with an explicit two-phase parser. The codec is pure:
// no I/O, no state, frames are throwaway values constructed immediately
// before a bridge call and discarded after decode.
package wire

import "strings"

// Proto is the protocol token emitted on every encoded request line. The
// embedded-side decoder only speaks this dialect.
const Proto = "HTTP/1.0"

// Header is a single ordered name/value pair. Order is preserved through
// encode and decode; the same name may appear more than once.
type Header struct {
	Name  string
	Value string
}

// RequestFrame is the structured form of an outgoing request about to cross
// the bridge. It is owned exclusively by the call that created it and never
// shared across concurrent translations.
type RequestFrame struct {
	Method  string
	URL     string
	Headers []Header
	Body    []byte
}

// ResponseFrame is the structured form of a response parsed from the text
// returned by the embedded server.
type ResponseFrame struct {
	Proto      string
	StatusCode int
	StatusText string
	Headers    []Header
	Body       []byte
}

// Header returns the value of the first header with the given name,
// case-insensitively, or "" if absent.
func (f *ResponseFrame) Header(name string) string {
	for _, h := range f.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// MethodPermitsBody reports whether the given verb may carry a request
// body on the wire. Encode refuses to emit a body section for any other
// verb, so a bodyless method can never produce a dangling Content-Length.
func MethodPermitsBody(method string) bool {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	}
	return false
}
