package proctor

import "strings"

// RuleID is the canonical, closed set of proctor event types. Raw client
// event names (including legacy spellings) are mapped onto this set by
// Normalize before any scoring happens.
type RuleID string

const (
	RuleTabSwitch      RuleID = "TAB_SWITCH"
	RuleClipboard      RuleID = "CLIPBOARD"
	RuleFullscreenExit RuleID = "FULLSCREEN_EXIT"
	RuleDevtools       RuleID = "DEVTOOLS"
	RuleWindowBlur     RuleID = "WINDOW_BLUR"

	// RuleUnknown is the bucket for unrecognized event types. It still
	// accumulates counts (for audit) but scores zero unless a catch-all
	// rule is configured.
	RuleUnknown RuleID = "UNKNOWN"
)

// aliasTable maps raw client event names to canonical rule IDs. Canonical
// names map to themselves so Normalize is idempotent. New aliases are
// additive and never change scoring semantics.
var aliasTable = map[string]RuleID{
	// Canonical (identity)
	"TAB_SWITCH":      RuleTabSwitch,
	"CLIPBOARD":       RuleClipboard,
	"FULLSCREEN_EXIT": RuleFullscreenExit,
	"DEVTOOLS":        RuleDevtools,
	"WINDOW_BLUR":     RuleWindowBlur,
	"UNKNOWN":         RuleUnknown,

	// Legacy / verbose client names
	"TAB_SWITCH_DETECTED": RuleTabSwitch,
	"VISIBILITY_HIDDEN":   RuleTabSwitch,
	"COPY_PASTE_ATTEMPT":  RuleClipboard,
	"CLIPBOARD_COPY":      RuleClipboard,
	"CLIPBOARD_PASTE":     RuleClipboard,
	"CLIPBOARD_CUT":       RuleClipboard,
	"DEVTOOLS_OPEN":       RuleDevtools,
	"DEVTOOLS_DETECTED":   RuleDevtools,
	"BLUR":                RuleWindowBlur,
}

// Normalize maps a raw client-reported event type to its canonical rule ID.
// Unrecognized or malformed input maps to RuleUnknown; it never fails, so
// broken client telemetry cannot crash scoring.
func Normalize(rawType string) RuleID {
	key := strings.ToUpper(strings.TrimSpace(rawType))
	if id, ok := aliasTable[key]; ok {
		return id
	}
	return RuleUnknown
}
