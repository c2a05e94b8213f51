package ctdf

import (
	"strings"
	"time"
)

type AlertEffect string

const (
	AlertEffectNoService          AlertEffect = "NO_SERVICE"
	AlertEffectReducedService     AlertEffect = "REDUCED_SERVICE"
	AlertEffectSignificantDelays  AlertEffect = "SIGNIFICANT_DELAYS"
	AlertEffectDetour             AlertEffect = "DETOUR"
	AlertEffectAdditionalService  AlertEffect = "ADDITIONAL_SERVICE"
	AlertEffectModifiedService    AlertEffect = "MODIFIED_SERVICE"
	AlertEffectOtherEffect        AlertEffect = "OTHER_EFFECT"
	AlertEffectUnknownEffect      AlertEffect = "UNKNOWN_EFFECT"
	AlertEffectStopMoved          AlertEffect = "STOP_MOVED"
	AlertEffectNoEffect           AlertEffect = "NO_EFFECT"
	AlertEffectAccessibilityIssue AlertEffect = "ACCESSIBILITY_ISSUE"
)

type ServiceAlert struct {
	ID       string
	Severity string
	Effect   AlertEffect
	Cause    string

	// Header and Description are keyed by BCP-47 language, "" for
	// untagged translations.
	Header      map[string]string
	Description map[string]string

	ActivePeriods    []ActivePeriod
	InformedEntities []InformedEntity
}

// ActivePeriod bounds are open when zero.
type ActivePeriod struct {
	Start time.Time
	End   time.Time
}

type InformedEntity struct {
	AgencyID  string
	RouteID   string
	StopID    string
	TripID    string
	StartDate string
	StartTime string
	// StopSequence is 0 when the feed did not carry one.
	StopSequence int
}

func (a *ServiceAlert) IsActive(checkTime time.Time) bool {
	if len(a.ActivePeriods) == 0 {
		return true
	}

	for _, period := range a.ActivePeriods {
		if !period.Start.IsZero() && checkTime.Before(period.Start) {
			continue
		}
		if !period.End.IsZero() && !checkTime.Before(period.End) {
			continue
		}
		return true
	}

	return false
}

// Text picks the header and description for lang or a regional variant of
// it, falling back to German, then English, then whatever translation exists.
func (a *ServiceAlert) Text(lang string) (string, string) {
	return translate(a.Header, lang), translate(a.Description, lang)
}

// AllText concatenates every translation, for keyword and time matching.
func (a *ServiceAlert) AllText() string {
	var builder strings.Builder
	for _, texts := range []map[string]string{a.Header, a.Description} {
		for _, text := range texts {
			builder.WriteString(text)
			builder.WriteByte('\n')
		}
	}
	return builder.String()
}

func (a *ServiceAlert) HasStopEntity() bool {
	for _, entity := range a.InformedEntities {
		if entity.StopID != "" {
			return true
		}
	}
	return false
}

func translate(texts map[string]string, lang string) string {
	if len(texts) == 0 {
		return ""
	}

	lang = strings.ToLower(lang)
	if text := textFor(texts, lang); text != "" {
		return text
	}

	regional := ""
	for key, text := range texts {
		if text != "" && strings.HasPrefix(strings.ToLower(key), lang+"-") && (regional == "" || key < regional) {
			regional = key
		}
	}
	if regional != "" {
		return texts[regional]
	}

	for _, candidate := range []string{"de", "en", ""} {
		if text := textFor(texts, candidate); text != "" {
			return text
		}
	}

	best := ""
	for key, text := range texts {
		if text != "" && (best == "" || key < best) {
			best = key
		}
	}
	return texts[best]
}

func textFor(texts map[string]string, lang string) string {
	if text := texts[lang]; text != "" {
		return text
	}
	for key, text := range texts {
		if strings.EqualFold(key, lang) && text != "" {
			return text
		}
	}
	return ""
}
