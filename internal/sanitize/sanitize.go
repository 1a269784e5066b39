// Package sanitize detects HTML in user-supplied text. Display names and
// profile values are copied into the client-readable snapshot cookie and
// rendered by frontends, so they are refused when they carry markup rather
// than silently rewritten.
package sanitize

import (
	"bytes"
	"encoding/json"
	"html"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// policy strips every element. Initialized once via sync.Once.
var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// Text returns input with all markup removed and entities decoded, i.e. what
// a browser would show if the value were rendered as HTML.
func Text(input string) string {
	if input == "" {
		return ""
	}
	return html.UnescapeString(getPolicy().Sanitize(input))
}

// HasMarkup reports whether input contains tags the strict policy would drop.
// Plain text with stray "<" or "&" characters is not markup.
func HasMarkup(input string) bool {
	return Text(input) != html.UnescapeString(input)
}

// JSONHasMarkup reports whether any string in a JSON document, keys
// included, contains markup. Invalid JSON reports false; callers validate
// the document separately.
func JSONHasMarkup(raw []byte) bool {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return false
	}
	return valueHasMarkup(doc)
}

// valueHasMarkup walks a decoded JSON value.
func valueHasMarkup(v interface{}) bool {
	switch val := v.(type) {
	case string:
		return HasMarkup(val)
	case map[string]interface{}:
		for k, child := range val {
			if HasMarkup(k) || valueHasMarkup(child) {
				return true
			}
		}
	case []interface{}:
		for _, child := range val {
			if valueHasMarkup(child) {
				return true
			}
		}
	}
	return false
}
