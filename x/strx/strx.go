// Package strx holds the small string-default helpers the config loader
// needs when an INI key is present but empty.
package strx

// Coalesce returns s if non-empty, otherwise d. Used for config fields like
// log format that have a sane default instead of a hard startup requirement.
func Coalesce(s, d string) string {
	if s == "" {
		return d
	}
	return s
}
