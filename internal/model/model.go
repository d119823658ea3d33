// Package model holds the small set of types shared across the
// agent-plane services.
package model

import "encoding/json"

// WarningsHeader is the response header carrying non-fatal diagnostics
// accumulated during one query execution, out-of-band from the result
// body.
const WarningsHeader = "cx_warnings"

// StatusWarnings is the informational status used instead of a plain
// 200 when a successful response carries warnings.
const StatusWarnings = 203

// Warning is a structured, non-fatal diagnostic.
type Warning struct {
	Source  string `json:"source,omitempty"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

// EncodeWarnings renders warnings as the JSON array carried in the
// warnings header. Returns "" for an empty list.
func EncodeWarnings(warnings []Warning) string {
	if len(warnings) == 0 {
		return ""
	}
	payload, err := json.Marshal(warnings)
	if err != nil {
		return ""
	}
	return string(payload)
}

// DecodeWarnings parses a warnings header value. Malformed input yields
// an empty list rather than an error; warnings are best-effort.
func DecodeWarnings(raw string) []Warning {
	if raw == "" {
		return nil
	}
	var warnings []Warning
	if err := json.Unmarshal([]byte(raw), &warnings); err != nil {
		return nil
	}
	return warnings
}
