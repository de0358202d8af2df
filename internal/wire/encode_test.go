package wire

import (
	"errors"
	"strings"
	"testing"
)

func TestEncode_RequestLine(t *testing.T) {
	text, err := Encode(RequestFrame{Method: "GET", URL: "/_matrix/client/versions"})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if !strings.HasPrefix(text, "GET /_matrix/client/versions HTTP/1.0\r\n") {
		t.Errorf("request line = %q", firstLine(text))
	}
}

func TestEncode_HeadersInOrder(t *testing.T) {
	text, err := Encode(RequestFrame{
		Method: "GET",
		URL:    "/_matrix/client/r0/sync",
		Headers: []Header{
			{Name: "Authorization", Value: "Bearer tok"},
			{Name: "Accept", Value: "application/json"},
		},
	})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	want := "GET /_matrix/client/r0/sync HTTP/1.0\r\n" +
		"Authorization: Bearer tok\r\n" +
		"Accept: application/json\r\n" +
		"\r\n"
	if text != want {
		t.Errorf("Encode() = %q, want %q", text, want)
	}
}

func TestEncode_ContentLengthIsByteLength(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "ascii json", body: `{"a":1}`, want: "Content-Length: 7\r\n"},
		// 'é' is two bytes in UTF-8; the character count would be 9.
		{name: "multibyte", body: `{"a":"é"}`, want: "Content-Length: 10\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := Encode(RequestFrame{
				Method:  "POST",
				URL:     "/_matrix/client/r0/createRoom",
				Headers: []Header{{Name: "Content-Type", Value: "application/json"}},
				Body:    []byte(tt.body),
			})
			if err != nil {
				t.Fatalf("Encode() error: %v", err)
			}
			if !strings.Contains(text, tt.want) {
				t.Errorf("Encode() missing %q in %q", tt.want, text)
			}
			if !strings.HasSuffix(text, "\r\n\r\n"+tt.body) {
				t.Errorf("body not appended after blank line: %q", text)
			}
		})
	}
}

func TestEncode_NoContentLengthWithoutBody(t *testing.T) {
	text, err := Encode(RequestFrame{Method: "GET", URL: "/_matrix/client/versions"})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if strings.Contains(text, "Content-Length") {
		t.Errorf("bodyless frame must not carry Content-Length: %q", text)
	}
	if !strings.HasSuffix(text, "\r\n\r\n") {
		t.Errorf("frame must end with the blank-line terminator: %q", text)
	}
}

func TestEncode_BodyOnBodylessMethod(t *testing.T) {
	_, err := Encode(RequestFrame{Method: "GET", URL: "/x", Body: []byte("nope")})
	if !errors.Is(err, ErrBodyNotAllowed) {
		t.Errorf("Encode() error = %v, want ErrBodyNotAllowed", err)
	}
}

func TestRewriteLongPollTimeout(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "default rewritten",
			in:   "/_matrix/client/r0/sync?timeout=30000&since=s1",
			want: "/_matrix/client/r0/sync?timeout=20000&since=s1",
		},
		{
			name: "other 30000 untouched",
			in:   "/_matrix/client/r0/sync?since=30000&timeout=30000",
			want: "/_matrix/client/r0/sync?since=30000&timeout=20000",
		},
		{
			name: "no timeout param",
			in:   "/_matrix/client/versions",
			want: "/_matrix/client/versions",
		},
		{
			name: "different timeout untouched",
			in:   "/_matrix/client/r0/sync?timeout=15000",
			want: "/_matrix/client/r0/sync?timeout=15000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RewriteLongPollTimeout(tt.in); got != tt.want {
				t.Errorf("RewriteLongPollTimeout(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEncode_AppliesTimeoutRewrite(t *testing.T) {
	text, err := Encode(RequestFrame{Method: "GET", URL: "/_matrix/client/r0/sync?timeout=30000"})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if !strings.Contains(text, "timeout=20000") || strings.Contains(text, "timeout=30000") {
		t.Errorf("timeout not rewritten in %q", firstLine(text))
	}
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(text, "\r\n")
	return line
}
