package tools

import (
	"errors"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// QualityLossThreshold is the PAPA below which student status is lost.
const QualityLossThreshold = 3.0

// DateLayout is the ISO date format used by deadline answers.
const DateLayout = "2006-01-02"

var (
	numberPattern  = regexp.MustCompile(`[0-9]+(?:[.,][0-9]+)?`)
	isoDatePattern = regexp.MustCompile(`\b(20[0-9]{2})-([0-9]{2})-([0-9]{2})\b`)
	dmyDatePattern = regexp.MustCompile(`\b([0-9]{2})/([0-9]{2})/(20[0-9]{2})\b`)
	planPattern    = regexp.MustCompile(`\b(3[0-9]{3})\b`)
)

// Average returns the arithmetic mean of values.
func Average(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, errors.New("la lista de notas no puede estar vacia")
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), nil
}

// MissingCredits returns how many credits are still needed, never negative.
func MissingCredits(required, approved int) (int, error) {
	if required < 0 || approved < 0 {
		return 0, errors.New("los creditos no pueden ser negativos")
	}
	return max(0, required-approved), nil
}

// Deadline adds days to an ISO start date.
func Deadline(start string, days int) (string, error) {
	if days < 0 {
		return "", errors.New("los dias no pueden ser negativos")
	}
	t, err := time.Parse(DateLayout, start)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, days).Format(DateLayout), nil
}

// CountMentions counts case-insensitive, non-overlapping occurrences.
func CountMentions(text, term string) int {
	if text == "" || term == "" {
		return 0
	}
	return strings.Count(strings.ToLower(text), strings.ToLower(term))
}

// LostStudentStatus reports whether papa is below the threshold.
func LostStudentStatus(papa float64) bool {
	return papa < QualityLossThreshold
}

// Requirements are thresholds read from normative text. Nil means absent.
type Requirements struct {
	MinAverage   *float64 `json:"min_promedio,omitempty"`
	MinCredits   *int     `json:"min_creditos,omitempty"`
	MaxSemesters *int     `json:"max_semestres,omitempty"`
}

// Empty reports whether no threshold was found.
func (r Requirements) Empty() bool {
	return r.MinAverage == nil && r.MinCredits == nil && r.MaxSemesters == nil
}

// StudentRecord holds the profile facts compared against Requirements.
type StudentRecord struct {
	Average   *float64
	Credits   *int
	Semesters *int
}

// Empty reports whether no fact is known.
func (s StudentRecord) Empty() bool {
	return s.Average == nil && s.Credits == nil && s.Semesters == nil
}

// RequirementCheck is the result of CheckRequirements.
type RequirementCheck struct {
	Met     bool     `json:"cumple"`
	Missing []string `json:"faltantes"`
}

// CheckRequirements compares known facts with known thresholds. A threshold
// without the matching fact is not counted as missing.
func CheckRequirements(s StudentRecord, r Requirements) RequirementCheck {
	missing := []string{}
	if r.MinCredits != nil && s.Credits != nil && *s.Credits < *r.MinCredits {
		missing = append(missing, "creditos")
	}
	if r.MinAverage != nil && s.Average != nil && *s.Average < *r.MinAverage {
		missing = append(missing, "promedio")
	}
	if r.MaxSemesters != nil && s.Semesters != nil && *s.Semesters > *r.MaxSemesters {
		missing = append(missing, "semestres")
	}
	return RequirementCheck{Met: len(missing) == 0, Missing: missing}
}

var (
	minAveragePattern   = regexp.MustCompile(`(?i)promedio\s+m[ií]nimo\s+(?:de\s+)?([0-9]+(?:[.,][0-9]+)?)`)
	minCreditsPattern   = regexp.MustCompile(`(?i)m[ií]nimo\s+(?:de\s+)?([0-9]+)\s+cr[eé]ditos`)
	maxSemestersPattern = regexp.MustCompile(`(?i)m[aá]ximo\s+(?:de\s+)?([0-9]+)\s+semestres`)
)

// ParseRequirements reads thresholds from normative text.
func ParseRequirements(text string) Requirements {
	var r Requirements
	if m := minAveragePattern.FindStringSubmatch(text); m != nil {
		if v, err := parseDecimal(m[1]); err == nil {
			r.MinAverage = &v
		}
	}
	if m := minCreditsPattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			r.MinCredits = &v
		}
	}
	if m := maxSemestersPattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			r.MaxSemesters = &v
		}
	}
	return r
}

// ExtractNumbers returns every decimal number in text, accepting "," as the
// decimal separator.
func ExtractNumbers(text string) []float64 {
	var out []float64
	for _, raw := range numberPattern.FindAllString(text, -1) {
		if v, err := parseDecimal(raw); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// ExtractDate returns the first YYYY-MM-DD or DD/MM/YYYY date as ISO.
func ExtractDate(text string) (string, bool) {
	if m := isoDatePattern.FindString(text); m != "" {
		return m, true
	}
	if m := dmyDatePattern.FindStringSubmatch(text); m != nil {
		return m[3] + "-" + m[2] + "-" + m[1], true
	}
	return "", false
}

// PlanCodes returns the distinct study plan codes in text, sorted.
func PlanCodes(text string) []string {
	codes := planPattern.FindAllString(text, -1)
	slices.Sort(codes)
	return slices.Compact(codes)
}

// NeedsPlanClarification reports whether context mentions several plans and
// hint (the question plus any remembered plan) names none of them.
func NeedsPlanClarification(context, hint string) (bool, []string) {
	codes := PlanCodes(context)
	if len(codes) <= 1 {
		return false, codes
	}
	for _, code := range codes {
		if strings.Contains(hint, code) {
			return false, codes
		}
	}
	return true, codes
}

func parseDecimal(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}
