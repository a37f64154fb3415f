package proctor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAliases(t *testing.T) {
	cases := map[string]RuleID{
		"TAB_SWITCH_DETECTED": RuleTabSwitch,
		"VISIBILITY_HIDDEN":   RuleTabSwitch,
		"COPY_PASTE_ATTEMPT":  RuleClipboard,
		"CLIPBOARD_COPY":      RuleClipboard,
		"CLIPBOARD_PASTE":     RuleClipboard,
		"FULLSCREEN_EXIT":     RuleFullscreenExit,
		"DEVTOOLS_OPEN":       RuleDevtools,
		"BLUR":                RuleWindowBlur,
	}
	for raw, want := range cases {
		assert.Equal(t, want, Normalize(raw), "raw=%s", raw)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, id := range []RuleID{RuleTabSwitch, RuleClipboard, RuleFullscreenExit, RuleDevtools, RuleWindowBlur, RuleUnknown} {
		assert.Equal(t, id, Normalize(string(id)))
	}
}

func TestNormalizeMalformed(t *testing.T) {
	for _, raw := range []string{"", "   ", "SOMETHING_NEW", "💥", "null"} {
		assert.Equal(t, RuleUnknown, Normalize(raw), "raw=%q", raw)
	}
}

func TestNormalizeCaseAndWhitespace(t *testing.T) {
	assert.Equal(t, RuleTabSwitch, Normalize("  tab_switch_detected "))
	assert.Equal(t, RuleClipboard, Normalize("copy_paste_attempt"))
}
