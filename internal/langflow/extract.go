package langflow

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/buger/jsonparser"
)

// rawTextKey wraps bodies that could not be parsed as JSON.
const rawTextKey = "raw_text"

// minFallbackRunes is the length a string must exceed to be picked by the
// exhaustive fallback walk.
const minFallbackRunes = 10

// Response is the JSON document returned by a run request. Its shape
// depends on the flow configuration and is never trusted.
type Response []byte

// RawText returns the top-level raw_text string, present when the endpoint
// answered with a body that was not JSON.
func (r Response) RawText() (string, bool) {
	if kind(r) != jsonparser.Object {
		return "", false
	}
	v, dt := member(r, rawTextKey)
	if dt != jsonparser.String {
		return "", false
	}
	s, err := jsonparser.ParseString(v)
	if err != nil {
		return "", false
	}
	return s, true
}

// probe looks for a reply inside one item of the top-level outputs array.
type probe func(item []byte) (string, bool)

// outputProbes are tried in order against every outputs item.
var outputProbes = []probe{
	probeOutputsMessage,
	probeFirstMessage,
	probeArtifacts,
	probeResults,
}

// shallowKeys are checked on the top-level object when no outputs item
// yields a reply.
var shallowKeys = []string{"message", "text", "output", "result"}

// ExtractText returns the best human-readable string found in resp, or ""
// when there is none. Known output shapes win over top-level keys, which
// win over the longest string anywhere in the document.
func ExtractText(resp Response) string {
	data := []byte(resp)
	if len(bytes.TrimSpace(data)) == 0 || !json.Valid(data) {
		return ""
	}

	top, dt, _, err := jsonparser.Get(data)
	if err != nil || dt == jsonparser.Null {
		return ""
	}

	if dt == jsonparser.Object {
		if s, ok := fromOutputs(top); ok {
			return s
		}
		if s, ok := fromShallowKeys(top); ok {
			return s
		}
	}

	var longest string
	walkLongest(top, dt, &longest)
	return longest
}

func fromOutputs(obj []byte) (string, bool) {
	outputs, dt := member(obj, "outputs")
	if dt != jsonparser.Array || !truthy(outputs, dt) {
		return "", false
	}

	var (
		found string
		ok    bool
	)
	_, _ = jsonparser.ArrayEach(outputs, func(item []byte, itemType jsonparser.ValueType, _ int, err error) {
		if ok || err != nil || itemType != jsonparser.Object {
			return
		}
		for _, p := range outputProbes {
			if s, hit := p(item); hit {
				found, ok = s, true
				return
			}
		}
	})
	return found, ok
}

// outputs.message.message, or outputs.message.text when message is empty.
func probeOutputsMessage(item []byte) (string, bool) {
	inner, dt := member(item, "outputs")
	if dt != jsonparser.Object {
		return "", false
	}
	msg, dt := member(inner, "message")
	if dt != jsonparser.Object {
		return "", false
	}
	return candidate(firstTruthy(msg, "message", "text"))
}

// messages[0].message
func probeFirstMessage(item []byte) (string, bool) {
	msgs, dt := member(item, "messages")
	if dt != jsonparser.Array {
		return "", false
	}
	first, dt, _, err := jsonparser.Get(msgs, "[0]")
	if err != nil || dt != jsonparser.Object {
		return "", false
	}
	return candidate(member(first, "message"))
}

// artifacts.message
func probeArtifacts(item []byte) (string, bool) {
	artifacts, dt := member(item, "artifacts")
	if dt != jsonparser.Object {
		return "", false
	}
	return candidate(member(artifacts, "message"))
}

// results.message.data.text, then results.message.text or default_value.
func probeResults(item []byte) (string, bool) {
	results, dt := member(item, "results")
	if dt != jsonparser.Object {
		return "", false
	}
	msg, dt := member(results, "message")
	if dt != jsonparser.Object {
		return "", false
	}
	if data, dt := member(msg, "data"); dt == jsonparser.Object {
		if s, ok := candidate(member(data, "text")); ok {
			return s, true
		}
	}
	return candidate(firstTruthy(msg, "text", "default_value"))
}

func fromShallowKeys(obj []byte) (string, bool) {
	for _, key := range shallowKeys {
		v, dt := member(obj, key)
		if dt != jsonparser.String {
			continue
		}
		s, err := jsonparser.ParseString(v)
		if err != nil || IsUUID(s) {
			continue
		}
		return strings.TrimSpace(s), true
	}
	return "", false
}

// walkLongest visits strings depth-first, object members in document order
// (one value per key) and array items by index. Only a strictly longer
// string replaces the current best, so ties keep the first one seen.
func walkLongest(v []byte, dt jsonparser.ValueType, best *string) {
	switch dt {
	case jsonparser.String:
		s, err := jsonparser.ParseString(v)
		if err != nil {
			return
		}
		s = strings.TrimSpace(s)
		if s == "" || IsUUID(s) {
			return
		}
		n := utf8.RuneCountInString(s)
		if n > minFallbackRunes && n > utf8.RuneCountInString(*best) {
			*best = s
		}
	case jsonparser.Object:
		for _, f := range fields(v) {
			walkLongest(f.value, f.dt, best)
		}
	case jsonparser.Array:
		_, _ = jsonparser.ArrayEach(v, func(value []byte, valueType jsonparser.ValueType, _ int, err error) {
			if err != nil {
				return
			}
			walkLongest(value, valueType, best)
		})
	}
}

// candidate accepts a string value that is not a UUID and is not blank.
func candidate(v []byte, dt jsonparser.ValueType) (string, bool) {
	if dt != jsonparser.String {
		return "", false
	}
	s, err := jsonparser.ParseString(v)
	if err != nil || IsUUID(s) {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

// member returns a direct member of a JSON object. Absent keys report
// jsonparser.NotExist. A repeated key resolves to its last value.
func member(obj []byte, key string) ([]byte, jsonparser.ValueType) {
	var (
		found []byte
		dt    = jsonparser.NotExist
	)
	err := jsonparser.ObjectEach(obj, func(k []byte, value []byte, valueType jsonparser.ValueType, _ int) error {
		if string(k) == key {
			found, dt = value, valueType
		}
		return nil
	})
	if err != nil {
		return nil, jsonparser.NotExist
	}
	return found, dt
}

type field struct {
	value []byte
	dt    jsonparser.ValueType
}

// fields lists an object's members in order of first appearance, each
// holding the last value given for its key.
func fields(obj []byte) []field {
	var out []field
	index := make(map[string]int)
	_ = jsonparser.ObjectEach(obj, func(k []byte, value []byte, valueType jsonparser.ValueType, _ int) error {
		if i, ok := index[string(k)]; ok {
			out[i] = field{value: value, dt: valueType}
			return nil
		}
		index[string(k)] = len(out)
		out = append(out, field{value: value, dt: valueType})
		return nil
	})
	return out
}

// firstTruthy returns primary unless it is JSON-falsy, in which case it
// returns fallback.
func firstTruthy(obj []byte, primary, fallback string) ([]byte, jsonparser.ValueType) {
	v, dt := member(obj, primary)
	if truthy(v, dt) {
		return v, dt
	}
	return member(obj, fallback)
}

// truthy treats null, false, 0, "", [] and {} as empty.
func truthy(v []byte, dt jsonparser.ValueType) bool {
	switch dt {
	case jsonparser.String:
		return len(v) > 0
	case jsonparser.Number:
		f, err := jsonparser.ParseFloat(v)
		return err == nil && f != 0
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(v)
		return err == nil && b
	case jsonparser.Array, jsonparser.Object:
		return len(v) >= 2 && len(bytes.TrimSpace(v[1:len(v)-1])) > 0
	default:
		return false
	}
}

func kind(data []byte) jsonparser.ValueType {
	if len(bytes.TrimSpace(data)) == 0 || !json.Valid(data) {
		return jsonparser.NotExist
	}
	_, dt, _, err := jsonparser.Get(data)
	if err != nil {
		return jsonparser.NotExist
	}
	return dt
}
