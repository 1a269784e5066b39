package sanitize

import "testing"

func TestHasMarkup(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"", false},
		{"Alice Liddell", false},
		{"Tom & Jerry", false},
		{`Alice "Al" O'Neil`, false},
		{"a < b", false},
		{"<b>bold</b>", true},
		{`<img src=x onerror=alert(1)>`, true},
		{"<script>alert(1)</script>", true},
		{`Alice<a href="https://evil.example">click</a>`, true},
	}
	for _, tt := range tests {
		if got := HasMarkup(tt.input); got != tt.want {
			t.Errorf("HasMarkup(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestText(t *testing.T) {
	if got := Text("<b>Alice</b> &amp; Bob"); got != "Alice & Bob" {
		t.Errorf("Text = %q", got)
	}
}

func TestJSONHasMarkup(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want bool
	}{
		{"plain", `{"team":"blue","size":5,"tags":["a & b"]}`, false},
		{"nested value", `{"bio":{"short":"<i>hi</i>"}}`, true},
		{"array value", `{"tags":["ok","<script>x</script>"]}`, true},
		{"key", `{"<b>k</b>":"v"}`, true},
		{"big number", `{"id":12345678901234567890}`, false},
		{"invalid", `{"bio":`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := JSONHasMarkup([]byte(tt.doc)); got != tt.want {
				t.Errorf("JSONHasMarkup = %v, want %v", got, tt.want)
			}
		})
	}
}
