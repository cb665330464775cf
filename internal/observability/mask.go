package observability

import "strings"

// MaskIdentifier hides most of an email address or phone number for logging.
// Emails keep the first character of the local part and the domain; anything
// else keeps only its last four characters.
func MaskIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return ""
	}

	if at := strings.LastIndex(identifier, "@"); at > 0 {
		local, domain := identifier[:at], identifier[at+1:]
		return string([]rune(local)[0]) + "***@" + domain
	}

	runes := []rune(identifier)
	if len(runes) <= 4 {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-4:])
}
