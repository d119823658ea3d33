package delegation

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/ashita-ai/tsunagu/internal/model"
)

// part is one segment of a multipart response body.
type part struct {
	contentType string
	body        []byte
}

// sniffMultipart detects a multipart body by its first two bytes rather
// than by the declared content type. The declared boundary parameter,
// when present, only extends the sniffed marker. This is
// implementation-defined behavior for arbitrary encoders: a body that
// merely starts with "--" and never repeats the marker falls through
// as a single part.
func sniffMultipart(raw []byte, contentType string) ([]part, bool) {
	if len(raw) < 2 || raw[0] != '-' || raw[1] != '-' {
		return nil, false
	}
	boundary := "--"
	if idx := strings.Index(contentType, ";boundary="); idx >= 0 {
		boundary += contentType[idx+len(";boundary="):]
	}

	var parts []part
	var current *part
	var body bytes.Buffer

	flush := func() {
		if current != nil {
			current.body = bytes.TrimSuffix(body.Bytes(), []byte("\n"))
			parts = append(parts, *current)
		}
		body = bytes.Buffer{}
	}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	expectHeader := false
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == boundary+"--":
			flush()
			current = nil
		case line == boundary:
			flush()
			current = &part{}
			expectHeader = true
		case expectHeader:
			expectHeader = false
			if strings.HasPrefix(line, "Content-Type: ") {
				current.contentType = strings.TrimPrefix(line, "Content-Type: ")
			} else if line != "" {
				body.WriteString(line)
				body.WriteString("\n")
			}
		case line == "" && current != nil && body.Len() == 0:
			// separator between part headers and content
		case current != nil:
			body.WriteString(line)
			body.WriteString("\n")
		}
	}
	flush()
	if len(parts) == 0 {
		return nil, false
	}
	return parts, true
}

// walkParts interprets the demultiplexed parts: warnings parts merge,
// a raw query text part short-circuits the call, anything else becomes
// the effective body. The last non-warnings part wins.
func walkParts(parts []part) (skillText string, body []byte, contentType string, warnings []model.Warning) {
	for _, p := range parts {
		switch p.contentType {
		case WarningsContentType:
			if decoded := model.DecodeWarnings(string(p.body)); decoded != nil {
				warnings = append(warnings, decoded...)
			}
		case SkillContentType:
			skillText = string(p.body)
			return skillText, nil, "", warnings
		default:
			if p.contentType != "" {
				body = p.body
				contentType = p.contentType
			}
		}
	}
	return "", body, contentType, warnings
}
