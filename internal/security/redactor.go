package security

import (
	"regexp"
	"strings"
)

// secretRule pairs a pattern with how its match should be masked. Rules
// with valueGroup > 0 only mask that capture group, preserving the key
// or URL context around the secret.
type secretRule struct {
	pattern    *regexp.Regexp
	valueGroup int
}

// SecretRedactor masks credentials and tokens in text before it reaches
// the model or the transcript.
type SecretRedactor struct {
	rules     []secretRule
	whitelist map[string]bool
}

// minSecretLen is the shortest value worth masking; anything shorter is
// too likely to be an ordinary word.
const minSecretLen = 8

// NewSecretRedactor creates a redactor covering common credential
// formats: labeled key/value pairs, bearer and basic auth headers,
// provider-specific token shapes, PEM blocks, and database URLs.
func NewSecretRedactor() *SecretRedactor {
	return &SecretRedactor{
		whitelist: map[string]bool{
			"true": true, "false": true, "null": true,
			"localhost": true, "127.0.0.1": true, "0.0.0.0": true, "::1": true,
			"development": true, "staging": true, "production": true,
		},
		rules: []secretRule{
			// key=value assignments with a credential-looking label
			{regexp.MustCompile(`(?i)(api[_-]?key|access[_-]?token|auth[_-]?token|secret|password|passwd|pwd)[:=]\s*["']?([a-zA-Z0-9_\-\.+/]{8,}={0,2})["']?`), 2},
			{regexp.MustCompile(`(?i)"private[_-]?key"\s*:\s*"([^"]{100,})"`), 1},

			// auth headers
			{regexp.MustCompile(`(?i)Bearer\s+([a-zA-Z0-9_\-\.]{10,256})`), 1},
			{regexp.MustCompile(`(?i)Authorization:\s*Basic\s+([A-Za-z0-9+/]{20,}={0,2})`), 1},

			// provider token shapes
			{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), 0},
			{regexp.MustCompile(`gh[pous]_[a-zA-Z0-9]{36}`), 0},
			{regexp.MustCompile(`sk_(?:live|test)_[0-9a-zA-Z]{24}`), 0},
			{regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`), 0},
			{regexp.MustCompile(`xox[baprs]-[0-9]{10,}-[0-9]{10,}-[a-zA-Z0-9]{24}`), 0},
			{regexp.MustCompile(`AC[a-zA-Z0-9]{32}`), 0},
			{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.(?:eyJ[a-zA-Z0-9_-]+)?\.[a-zA-Z0-9_-]{20,}`), 0},

			// PEM blocks
			{regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`), 0},

			// connection URLs with inline credentials
			{regexp.MustCompile(`(?:postgres|mysql|mongodb|redis|amqp)://([^@\s]+)@`), 1},

			// webhook URLs
			{regexp.MustCompile(`https?://hooks\.slack\.com/services/[A-Z0-9/]{30,}`), 0},
		},
	}
}

// Redact masks every detected secret in text.
func (r *SecretRedactor) Redact(text string) string {
	if text == "" {
		return ""
	}

	for _, rule := range r.rules {
		if !rule.pattern.MatchString(text) {
			continue
		}

		if rule.valueGroup == 0 {
			text = rule.pattern.ReplaceAllString(text, "[REDACTED]")
			continue
		}

		text = rule.pattern.ReplaceAllStringFunc(text, func(match string) string {
			subs := rule.pattern.FindStringSubmatch(match)
			if len(subs) <= rule.valueGroup {
				return "[REDACTED]"
			}
			value := subs[rule.valueGroup]
			if len(value) < minSecretLen || r.isWhitelisted(value) {
				return match
			}
			return strings.Replace(match, value, "[REDACTED]", 1)
		})
	}
	return text
}

// isWhitelisted reports whether a matched value is clearly not a secret.
func (r *SecretRedactor) isWhitelisted(value string) bool {
	lower := strings.Trim(strings.ToLower(value), `"'`)
	if r.whitelist[lower] {
		return true
	}
	for _, safe := range []string{"example", "test", "demo", "sample", "mock", "placeholder", "changeme"} {
		if strings.Contains(lower, safe) {
			return true
		}
	}
	return false
}

// AddPattern registers an extra full-match pattern.
func (r *SecretRedactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, secretRule{pattern: re})
	return nil
}

// RedactMap redacts string values in a map, descending into nested maps.
func (r *SecretRedactor) RedactMap(m map[string]any) map[string]any {
	redacted := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			redacted[k] = r.Redact(val)
		case map[string]any:
			redacted[k] = r.RedactMap(val)
		default:
			redacted[k] = v
		}
	}
	return redacted
}
