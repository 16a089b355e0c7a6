// Package phonenum classifies raw dial strings as recorded by the switch:
// E.164 country-code matching plus the domestic/international predicates the
// mediation pipeline bills against. Parsing is deliberately tolerant — switch
// accounting data contains formatting noise and carrier quirks.
package phonenum

import (
	"regexp"
	"strings"
)

// Classification is the result of matching a number against the E.164
// country-code table.
type Classification struct {
	CountryCode string // matched E.164 dial prefix, e.g. "44" or "1664"
	National    string // remainder of the number after the country code
	ISO         string // ISO-style country code, e.g. "UK"
	CountryName string
}

var nonDialChars = regexp.MustCompile(`[^0-9+]+`)

// usDomestic is lax on purpose: ten digits with an optional leading 1 or +1.
var usDomestic = regexp.MustCompile(`^((\+1)|1)?\d{10}$`)

// normalize strips formatting noise and common international dial prefixes
// (+, 011, 001, 00, 0), leaving bare E.164 digits.
func normalize(num string) string {
	n := nonDialChars.ReplaceAllString(num, "")

	switch {
	case strings.HasPrefix(n, "+"):
		n = n[1:]
	case strings.HasPrefix(n, "011"):
		n = n[3:]
	case strings.HasPrefix(n, "001"):
		n = n[3:]
	case strings.HasPrefix(n, "00"):
		n = n[2:]
	case strings.HasPrefix(n, "0"):
		n = n[1:]
	}

	return n
}

// Classify matches num against the country-code table, preferring the longest
// matching prefix (so 1664... is Montserrat, not US). Returns nil when the
// number is too short or no prefix matches.
func Classify(num string) *Classification {
	if num == "" {
		return nil
	}

	if len(nonDialChars.ReplaceAllString(num, "")) < 8 {
		return nil
	}

	n := normalize(num)
	if len(n) < 8 {
		return nil
	}

	var match *Classification
	for i := 1; i <= 4 && i <= len(n)-7; i++ {
		if info, ok := e164CountryCodes[n[:i]]; ok {
			match = &Classification{
				CountryCode: n[:i],
				National:    n[i:],
				ISO:         info.ISO,
				CountryName: info.Name,
			}
		}
	}

	return match
}

// IsDomestic reports whether num looks like a NANP domestic number. This is
// laxer than Classify: it only checks for ten digits with an optional 1
// prefix, because carriers frequently send un-normalized domestic numbers.
func IsDomestic(num string) bool {
	if num == "" {
		return false
	}
	return usDomestic.MatchString(num)
}

// IsInternational reports whether num is a valid non-NANP number. A number is
// never both domestic and international.
func IsInternational(num string) bool {
	if !LooksLikeValidPSTN(num) {
		return false
	}

	if IsDomestic(num) {
		return false
	}

	if strings.HasPrefix(num, "+1") || strings.HasPrefix(num, "1") {
		return false
	}

	return len(num) > 9
}

// LooksLikeValidPSTN reports whether num plausibly addresses the PSTN: it
// must classify to a known country code and keep at least six national
// digits.
func LooksLikeValidPSTN(num string) bool {
	if num == "" || len(num) < 8 {
		return false
	}

	if len(nonDialChars.ReplaceAllString(num, "")) < 8 {
		return false
	}

	c := Classify(num)
	return c != nil && len(c.National) >= 6
}
