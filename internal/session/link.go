package session

import (
	"net/url"
	"strings"
)

// MaxLinkLength caps submitted links. QR-sourced URLs are short; anything
// longer is noise or abuse.
const MaxLinkLength = 2048

// schemeDenylist holds scheme prefixes that would execute code when the
// desktop opens the link as a navigation target. The check is textual on
// the trimmed, lowercased input rather than on a parsed scheme, so inputs
// a lenient URL parser would still accept cannot slip through.
var schemeDenylist = []string{"javascript:", "data:", "vbscript:"}

// ValidateLink sanitizes and validates a submitted link. It returns the
// trimmed link on success, or an *InvalidLinkError whose reason is safe
// to show to the submitter.
func ValidateLink(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &InvalidLinkError{Reason: "link is required"}
	}
	if len(trimmed) > MaxLinkLength {
		return "", &InvalidLinkError{Reason: "link exceeds maximum length"}
	}

	lower := strings.ToLower(trimmed)
	for _, prefix := range schemeDenylist {
		if strings.HasPrefix(lower, prefix) {
			return "", &InvalidLinkError{Reason: "link protocol is not allowed"}
		}
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", &InvalidLinkError{Reason: "link is not a valid URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &InvalidLinkError{Reason: "link must use http or https"}
	}
	if u.Host == "" {
		return "", &InvalidLinkError{Reason: "link must be an absolute URL"}
	}

	return trimmed, nil
}
