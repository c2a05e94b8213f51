package servicealerts

import (
	"strings"

	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/ctdf"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/util"
)

type Class string

const (
	ClassNone        Class = ""
	ClassReplacement Class = "replacement"
	ClassExtra       Class = "extra"
	ClassSkippedStop Class = "skipped_stop"
)

// Keywords are matched against folded text (lower case, no diacritics,
// single spaces), padded with a space on both sides.
var replacementKeywords = []string{
	"ersatz", " ev ", "bahnersatz", "replacement", "rail replacement",
	"remplacement", "bus de substitution", "sostitutiv", "bus sostitutivo",
}

var extraKeywords = []string{
	"extrazug", "zusatzzug", "extrafahrt", "zusatzfahrt", "sonderzug", "entlastungszug",
	"train supplementaire", "course supplementaire", "train special",
	"treno supplementare", "treno speciale", "corsa supplementare",
	"additional train", "extra train", "special train", "additional service",
}

var skippedStopKeywords = []string{
	"halt entfallt", "halt fallt aus", "wird nicht bedient", "nicht bedient",
	"ne dessert pas", "pas desservi", "non ferma", "non servit", "does not stop", "not served",
}

// Classify tells whether an alert announces replacement or extra services,
// or stops not served. The structured effect wins over the text.
func Classify(alert *ctdf.ServiceAlert) Class {
	switch alert.Effect {
	case ctdf.AlertEffectModifiedService, ctdf.AlertEffectDetour:
		return ClassReplacement
	case ctdf.AlertEffectAdditionalService:
		return ClassExtra
	}

	text := " " + util.FoldText(alert.AllText()) + " "
	switch {
	case containsAny(text, replacementKeywords):
		return ClassReplacement
	case containsAny(text, extraKeywords):
		return ClassExtra
	case containsAny(text, skippedStopKeywords):
		return ClassSkippedStop
	}
	return ClassNone
}

func containsAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

func (c Class) Synthesizes() bool {
	return c == ClassReplacement || c == ClassExtra
}

func (c Class) Tag() string {
	switch c {
	case ClassReplacement:
		return ctdf.TagReplacement
	case ClassExtra:
		return ctdf.TagExtra
	case ClassSkippedStop:
		return ctdf.TagSkippedStop
	}
	return ""
}
