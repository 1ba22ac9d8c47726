package lastfm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	defaultIgnoredCode    = "unknown"
	defaultIgnoredMessage = "Scrobble rejected"

	// duplicateCode is how the service reports a play it already has.
	duplicateCode = "91"
)

// checkAPIError returns an *APIError when the payload carries a top-level
// "error" field.
func checkAPIError(body []byte) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("parse api response: %w", err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := obj["error"]
	if !ok {
		return nil
	}
	apiErr := &APIError{Code: fmt.Sprint(raw), Message: "API error"}
	if f, ok := raw.(float64); ok {
		apiErr.Code = strconv.FormatFloat(f, 'f', -1, 64)
	}
	if msg, ok := obj["message"].(string); ok {
		apiErr.Message = msg
	}
	return apiErr
}

// responseMatcher recognizes one shape of track.scrobble response. matched
// is false when body is not that shape.
type responseMatcher func(body []byte) (matched bool, err error)

var scrobbleMatchers = []responseMatcher{matchTyped, matchGeneric}

// interpretScrobble decides whether a track.scrobble response means the
// play was accepted.
func interpretScrobble(body []byte) error {
	if err := checkAPIError(body); err != nil {
		return err
	}
	for _, match := range scrobbleMatchers {
		if matched, err := match(body); matched {
			return err
		}
	}
	return nil
}

type scrobbleResponse struct {
	Scrobbles *struct {
		Attr     *scrobbleAttr   `json:"@attr"`
		Scrobble json.RawMessage `json:"scrobble"`
	} `json:"scrobbles"`
}

type scrobbleAttr struct {
	Accepted count `json:"accepted"`
	Ignored  count `json:"ignored"`
}

// count is a counter the service sends either as a number or as a numeric
// string.
type count uint32

func (c *count) UnmarshalJSON(b []byte) error {
	var n uint32
	if err := json.Unmarshal(b, &n); err == nil {
		*c = count(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("counter %s: not a number or string", b)
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return fmt.Errorf("counter %q: %w", s, err)
	}
	*c = count(v)
	return nil
}

func matchTyped(body []byte) (bool, error) {
	var resp scrobbleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, nil
	}
	if resp.Scrobbles == nil {
		return true, nil
	}
	if a := resp.Scrobbles.Attr; a != nil && a.Accepted > 0 && a.Ignored == 0 {
		return true, nil
	}
	return true, verdict(resp.Scrobbles.Scrobble)
}

// matchGeneric walks the payload field by field for responses whose types
// do not fit scrobbleResponse.
func matchGeneric(body []byte) (bool, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return false, nil
	}
	raw, ok := doc["scrobbles"]
	if !ok {
		return true, nil
	}
	var scrobbles, attr map[string]json.RawMessage
	_ = json.Unmarshal(raw, &scrobbles)
	_ = json.Unmarshal(scrobbles["@attr"], &attr)
	if lenientCount(attr["accepted"]) > 0 && lenientCount(attr["ignored"]) == 0 {
		return true, nil
	}
	return true, verdict(scrobbles["scrobble"])
}

func lenientCount(raw json.RawMessage) uint64 {
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseUint(s, 10, 32); err == nil {
			return v
		}
	}
	return 0
}

// verdict turns the ignoredMessage of the first scrobble entry into an
// error, or nil for a duplicate.
func verdict(entries json.RawMessage) error {
	code, msg := ignoredReason(entries)
	if code == duplicateCode {
		return nil
	}
	return &RejectedError{Code: code, Message: msg}
}

func ignoredReason(entries json.RawMessage) (code, msg string) {
	code, msg = defaultIgnoredCode, defaultIgnoredMessage
	entry, ok := firstEntry(entries)
	if !ok {
		return code, msg
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(entry, &fields); err != nil {
		return code, msg
	}
	raw, ok := fields["ignoredMessage"]
	if !ok {
		return code, msg
	}
	for _, match := range ignoredMatchers {
		if c, m, ok := match(raw); ok {
			return c, m
		}
	}
	return code, msg
}

// firstEntry returns the scrobble entry itself or the first element when
// the service sent a list.
func firstEntry(raw json.RawMessage) (json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, false
	}
	switch raw[0] {
	case '{':
		return raw, true
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
			return nil, false
		}
		return list[0], true
	}
	return nil, false
}

type ignoredMatcher func(raw json.RawMessage) (code, msg string, ok bool)

var ignoredMatchers = []ignoredMatcher{ignoredObject, ignoredText, ignoredNumber}

func ignoredObject(raw json.RawMessage) (string, string, bool) {
	var obj struct {
		Code json.RawMessage `json:"code"`
		Text *string         `json:"#text"`
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
		return "", "", false
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", "", false
	}
	// Only a string code counts; a numeric one is not coerced.
	code, msg := defaultIgnoredCode, defaultIgnoredMessage
	if raw := bytes.TrimSpace(obj.Code); len(raw) > 0 && raw[0] == '"' {
		var c string
		if err := json.Unmarshal(raw, &c); err == nil {
			code = c
		}
	}
	if obj.Text != nil {
		msg = *obj.Text
	}
	return code, msg, true
}

func ignoredText(raw json.RawMessage) (string, string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", "", false
	}
	return defaultIgnoredCode, s, true
}

func ignoredNumber(raw json.RawMessage) (string, string, bool) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", "", false
	}
	return defaultIgnoredCode, n.String(), true
}
