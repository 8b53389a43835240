package locale

import (
	"fmt"
	"strings"
)

// Locale identifies the country and language a ThinQ account is bound to.
// The backend serves different gateway endpoints and label packs per locale,
// so every authenticated request carries both codes.
type Locale struct {
	Country  string // ISO 3166-1 alpha-2, uppercase
	Language string // IETF tag, e.g. "en-US" or bare ISO 639-1 "en"
}

// Parse validates and normalizes a country/language pair. The country must be
// ISO 3166-1 alpha-2; the language either a bare ISO 639-1 code or an
// "ll-CC" composite. A composite whose region part contradicts the country
// is rejected, since the backend would serve labels for the wrong market.
func Parse(country, language string) (Locale, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if !isAlpha2(country) {
		return Locale{}, fmt.Errorf("invalid country code %q: want ISO 3166-1 alpha-2", country)
	}

	language = strings.TrimSpace(language)
	lang, region, found := strings.Cut(language, "-")
	lang = strings.ToLower(lang)
	if !isAlphaN(lang, 2) {
		return Locale{}, fmt.Errorf("invalid language code %q: want ISO 639-1", language)
	}
	if found {
		region = strings.ToUpper(region)
		if !isAlpha2(region) {
			return Locale{}, fmt.Errorf("invalid language region in %q", language)
		}
		if region != country {
			return Locale{}, fmt.Errorf("language region %s does not match country %s", region, country)
		}
		return Locale{Country: country, Language: lang + "-" + region}, nil
	}

	return Locale{Country: country, Language: lang + "-" + country}, nil
}

// Tag returns the full language tag, e.g. "en-US".
func (l Locale) Tag() string {
	return l.Language
}

func (l Locale) String() string {
	return l.Country + "/" + l.Language
}

func isAlpha2(s string) bool {
	return isUpperN(s, 2)
}

func isUpperN(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

func isAlphaN(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return true
}
