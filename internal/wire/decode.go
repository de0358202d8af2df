package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// MalformedFrameError reports a response text that does not match the frame
// grammar. It carries the raw text for diagnostics. Grammar failures are
// fatal to the response but must never crash the caller.
type MalformedFrameError struct {
	Reason string
	Raw    string
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("wire: malformed frame: %s", e.Reason)
}

// Decode parses a textual response frame:
//
//	HTTP/1.{0|1} STATUSCODE REASON\r\n
//	Name: Value\r\n ...
//	\r\n\r\n
//	BODY
//
// Parsing is two-phase: a line scanner first locates the header/body
// boundary (the first double CRLF), then the status line and each header
// line are split. A header line without a colon is skipped and reported in
// the returned diagnostics; header failures are non-fatal. A grammar
// mismatch (missing boundary, bad protocol token, non-numeric status)
// returns a *MalformedFrameError.
func Decode(text string) (*ResponseFrame, []string, error) {
	// Phase 1: locate the header/body boundary deterministically. Everything
	// after the first blank-line boundary is body, untouched.
	head, body, found := strings.Cut(text, "\r\n\r\n")
	if !found {
		return nil, nil, &MalformedFrameError{Reason: "missing header/body separator", Raw: text}
	}

	lines := strings.Split(head, "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, nil, &MalformedFrameError{Reason: "empty status line", Raw: text}
	}

	proto, code, reason, err := parseStatusLine(lines[0])
	if err != nil {
		return nil, nil, &MalformedFrameError{Reason: err.Error(), Raw: text}
	}

	f := &ResponseFrame{
		Proto:      proto,
		StatusCode: code,
		StatusText: reason,
	}

	// Phase 2: split header lines. Failures here skip the line only.
	var skipped []string
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			skipped = append(skipped, line)
			continue
		}
		f.Headers = append(f.Headers, Header{
			Name:  name,
			Value: strings.TrimLeft(value, " \t"),
		})
	}

	if len(body) > 0 {
		f.Body = []byte(body)
	}

	return f, skipped, nil
}

// parseStatusLine splits "HTTP/1.x CODE REASON" into its parts. The status
// code must be a valid 3-digit value.
func parseStatusLine(line string) (proto string, code int, reason string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return "", 0, "", fmt.Errorf("status line %q has too few fields", line)
	}

	proto = parts[0]
	if proto != "HTTP/1.0" && proto != "HTTP/1.1" {
		return "", 0, "", fmt.Errorf("unrecognized protocol token %q", proto)
	}

	codeStr := parts[1]
	if len(codeStr) != 3 {
		return "", 0, "", fmt.Errorf("status code %q is not three digits", codeStr)
	}
	for i := 0; i < len(codeStr); i++ {
		if codeStr[i] < '0' || codeStr[i] > '9' {
			return "", 0, "", fmt.Errorf("status code %q is not numeric", codeStr)
		}
	}
	code, _ = strconv.Atoi(codeStr)
	if code < 100 {
		return "", 0, "", fmt.Errorf("status code %q has a leading zero", codeStr)
	}

	if len(parts) == 3 {
		reason = parts[2]
	}
	return proto, code, reason, nil
}
