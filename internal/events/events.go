// Package events defines the typed inbound webhook events and their
// construction-time validation. Each domain has a parse constructor that
// rejects payloads with missing required fields so partial data never
// reaches the write path.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Domain names as they appear in the webhook envelope "type" field.
const (
	DomainPokemon  = "pokemon"
	DomainRaid     = "raid"
	DomainQuest    = "quest"
	DomainInvasion = "invasion"
)

// ErrInvalidEvent marks payloads that fail construction-time validation.
// Wrapped errors name the domain and the missing fields.
var ErrInvalidEvent = errors.New("invalid event")

// Envelope is the outer webhook shape: {"type": "...", "message": {...}}.
// Events arrive already area-tagged; geofence resolution happens upstream.
type Envelope struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

func invalidf(domain string, missing []string) error {
	return fmt.Errorf("%w: %s missing fields: %s", ErrInvalidEvent, domain, strings.Join(missing, ", "))
}

// sanitizeDim strips the key delimiter out of free-form dimension values.
// Colons inside an area name would corrupt every split-based parser
// downstream, so they are replaced at construction and nowhere else.
func sanitizeDim(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), ":", "_")
}

// flexInt decodes JSON numbers and numeric strings into an int64. Webhook
// senders disagree on whether ids are numbers or strings, and some
// serialize whole numbers with a decimal part.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return fmt.Errorf("empty numeric value")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse %q as number: %w", s, err)
	}
	*f = flexInt(int64(v))
	return nil
}

// flexBool decodes JSON booleans, 0/1 numbers, and their string forms.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	switch s {
	case "true", "True", "1":
		*f = true
		return nil
	case "false", "False", "0", "null", "":
		*f = false
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse %q as bool: %w", s, err)
	}
	*f = v != 0
	return nil
}

// flexString decodes strings and bare numbers into their string form,
// rendering whole numbers without a decimal part. Null becomes "".
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*f = ""
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexString(v)
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("parse %s as string or number: %w", s, err)
	}
	if n == math.Trunc(n) {
		*f = flexString(strconv.FormatInt(int64(n), 10))
	} else {
		*f = flexString(strconv.FormatFloat(n, 'f', -1, 64))
	}
	return nil
}

func boolDim(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
