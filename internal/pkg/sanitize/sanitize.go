// Package sanitize holds the string filters applied to user-supplied text
// before it is stored (transaction reasons, descriptions, referral codes).
// Every function is pure and total.
package sanitize

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

const (
	maxEmailLength = 254
	maxURLLength   = 2048
)

var (
	dangerousTags = []string{"script", "iframe", "object", "embed"}

	pairedTagRes   []*regexp.Regexp
	unpairedTagRes []*regexp.Regexp

	eventHandlerRe = regexp.MustCompile(`(?i)(<(?:[^<>"']|"[^"]*"|'[^']*')*?)[\s/]+on[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]*)`)
	schemeRes      = []*regexp.Regexp{
		regexp.MustCompile(`(?i)javascript\s*:`),
		regexp.MustCompile(`(?i)vbscript\s*:`),
		regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	}

	phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

	sqlEscaper = strings.NewReplacer(
		`\`, `\\`,
		`'`, `''`,
		`"`, `\"`,
		"\x00", `\0`,
		"\n", `\n`,
		"\r", `\r`,
		"\x1a", `\Z`,
	)

	strictPolicy = bluemonday.StrictPolicy()
	validate     = validator.New()
)

func init() {
	for _, tag := range dangerousTags {
		pairedTagRes = append(pairedTagRes, regexp.MustCompile(`(?is)<`+tag+`\b[^>]*>.*?</\s*`+tag+`\s*>`))
		unpairedTagRes = append(unpairedTagRes, regexp.MustCompile(`(?i)</?\s*`+tag+`\b[^>]*>?`))
	}
}

// SanitizeHTML removes script-capable markup and leaves everything else
// byte-for-byte intact, so SanitizeHTML(s) == s for benign HTML. Passes
// repeat until nothing changes; each pass only deletes, so the loop ends.
func SanitizeHTML(s string) string {
	for {
		next := sanitizePass(s)
		if next == s {
			return s
		}
		s = next
	}
}

func sanitizePass(s string) string {
	for _, re := range pairedTagRes {
		s = re.ReplaceAllString(s, "")
	}
	for _, re := range unpairedTagRes {
		s = re.ReplaceAllString(s, "")
	}
	s = eventHandlerRe.ReplaceAllString(s, "$1")
	for _, re := range schemeRes {
		s = re.ReplaceAllString(s, "")
	}
	return s
}

// ContainsXSS reports whether SanitizeHTML would alter s.
func ContainsXSS(s string) bool {
	return SanitizeHTML(s) != s
}

// StripTags removes all markup. Text content is HTML-escaped.
func StripTags(s string) string {
	return strictPolicy.Sanitize(s)
}

// SanitizeSQL escapes quotes, backslashes and control characters.
// Queries in this service are parameterized; this is for values that end up
// in exported reports or logs consumed by other tools.
func SanitizeSQL(s string) string {
	return sqlEscaper.Replace(s)
}

// IsValidEmail checks format and the RFC 5321 length ceiling.
func IsValidEmail(email string) bool {
	if email == "" || len(email) > maxEmailLength {
		return false
	}
	return validate.Var(email, "email") == nil
}

// IsValidURL accepts absolute http(s) URLs up to 2048 bytes.
func IsValidURL(raw string) bool {
	if raw == "" || len(raw) > maxURLLength {
		return false
	}
	if validate.Var(raw, "url") != nil {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// IsValidPhone accepts E.164 numbers, tolerating common separators.
func IsValidPhone(phone string) bool {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return false
	}
	return validate.Var(normalized, "e164") == nil
}

// NormalizePhone strips separators and ensures a leading '+'.
func NormalizePhone(phone string) string {
	p := phoneSeparators.Replace(strings.TrimSpace(phone))
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "+") {
		p = "+" + p
	}
	return p
}
