package loader

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"
)

var errInvalidUTF8 = errors.New("content is not valid UTF-8")

// Text handles plain text files.
type Text struct{}

var _ Format = Text{}

func (Text) Name() string         { return "text" }
func (Text) Extensions() []string { return []string{".txt", ".text", ".log"} }
func (Text) MIMETypes() []string  { return []string{"text/plain"} }

// Parse validates the encoding and normalises line endings.
func (Text) Parse(data []byte, _ string) (string, map[string]string, error) {
	s, err := decodeText(data)
	if err != nil {
		return "", nil, err
	}
	return s, nil, nil
}

// decodeText checks UTF-8 validity, drops a byte order mark, and converts
// CRLF and CR line endings to LF.
func decodeText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errInvalidUTF8
	}
	s := strings.TrimPrefix(string(data), "\ufeff")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s, nil
}

func jsonValid(b []byte) bool {
	return json.Valid(b)
}
