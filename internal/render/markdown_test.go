package render

import (
	"strings"
	"testing"
)

func TestMarkdownRendersFormatting(t *testing.T) {
	r := New()

	got := string(r.Markdown("**bold** and `code`\n\n- item"))
	for _, want := range []string{"<strong>bold</strong>", "<code>code</code>", "<li>item</li>"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in %q", want, got)
		}
	}
}

func TestMarkdownStripsScripts(t *testing.T) {
	r := New()

	got := string(r.Markdown("hi <script>alert(1)</script> [x](javascript:alert(1))"))
	if strings.Contains(got, "<script") {
		t.Fatalf("script tag survived: %q", got)
	}
	if strings.Contains(got, "javascript:") {
		t.Fatalf("javascript link survived: %q", got)
	}
}

func TestMarkdownHardWraps(t *testing.T) {
	r := New()

	got := string(r.Markdown("line one\nline two"))
	if !strings.Contains(got, "<br") {
		t.Fatalf("expected line break in %q", got)
	}
}
