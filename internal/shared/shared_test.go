package shared

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	if got := SanitizeName(`AC/DC: Back "In" Black?`); strings.ContainsAny(got, `\/:*?"<>|`) {
		t.Errorf("unsafe characters survived: %q", got)
	}
	if got := SanitizeName(strings.Repeat("ä", 150)); len([]rune(got)) != 100 {
		t.Errorf("expected 100 runes, got %d", len([]rune(got)))
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 64); got != "short" {
		t.Errorf("unexpected %q", got)
	}

	// Never split a multi-byte rune.
	got := Truncate(strings.Repeat("é", 40), 63)
	if len(got) > 63 || !strings.HasSuffix(got, "é") {
		t.Errorf("rune split in %q (%d bytes)", got, len(got))
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[int]string{213: "3:33", 59: "0:59", 600: "10:00", 0: ""}
	for seconds, want := range cases {
		if got := FormatDuration(seconds); got != want {
			t.Errorf("FormatDuration(%d) = %q, want %q", seconds, got, want)
		}
	}
}

func TestJoinNonEmpty(t *testing.T) {
	if got := JoinNonEmpty(" | ", "a", " ", "", "b"); got != "a | b" {
		t.Errorf("unexpected %q", got)
	}
}

func TestErrArtifactTooBigIsPolicyViolation(t *testing.T) {
	if !errors.Is(ErrArtifactTooBig, ErrPolicyViolation) {
		t.Error("size rejections must classify as policy violations")
	}
}
