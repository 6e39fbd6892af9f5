// Package security provides credential masking for log output.
package security

import (
	"regexp"
	"strings"
)

// MaskCredential masks a credential, keeping the first two and last two
// characters visible. Short values are fully masked.
func MaskCredential(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

var sensitivePattern = regexp.MustCompile(
	`(?i)(app[_-]?key|app[_-]?secret|secret[_-]?key|access[_-]?token|authorization|bearer|password)[=:\s]+["']?([^\s"',}]+)["']?`)

// MaskSensitive masks credential-bearing substrings inside free-form text,
// e.g. request bodies or error messages headed for logs.
func MaskSensitive(input string) string {
	return sensitivePattern.ReplaceAllStringFunc(input, func(match string) string {
		for _, sep := range []string{"=", ":"} {
			if parts := strings.SplitN(match, sep, 2); len(parts) == 2 {
				return parts[0] + sep + MaskCredential(strings.Trim(parts[1], "\"' "))
			}
		}
		return MaskCredential(match)
	})
}
