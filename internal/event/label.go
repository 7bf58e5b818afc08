package event

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Label is a classification outcome. The set is closed.
type Label string

const (
	LabelGood    Label = "good"
	LabelDirty   Label = "dirty"
	LabelCracked Label = "cracked"
	LabelOther   Label = "other"
)

// Labels lists every known label in display order.
var Labels = []Label{LabelGood, LabelDirty, LabelCracked, LabelOther}

// labelAliases maps spellings seen from detection models onto the closed set.
var labelAliases = map[string]Label{
	"good":         LabelGood,
	"ok":           LabelGood,
	"dirty":        LabelDirty,
	"dirt":         LabelDirty,
	"cracked":      LabelCracked,
	"crack":        LabelCracked,
	"other":        LabelOther,
	"other-defect": LabelOther,
	"other_defect": LabelOther,
	"defect":       LabelOther,
}

// ParseLabel normalizes s (NFC, case folded, trimmed) and maps it to a Label.
func ParseLabel(s string) (Label, error) {
	key := cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
	if l, ok := labelAliases[key]; ok {
		return l, nil
	}
	return "", fmt.Errorf("unknown label %q", s)
}

// Valid reports whether l is a member of the closed label set.
func (l Label) Valid() bool {
	for _, known := range Labels {
		if l == known {
			return true
		}
	}
	return false
}
