package sip

import "strings"

// CallerID extracts the user part of the From header URI.
//
// Accepted shapes, all seen in the wild:
//
//	"Alice" <sip:+441234567890@carrier.example>;tag=abc
//	<sip:441234567890@10.0.0.1:5060>
//	sip:anonymous@anonymous.invalid
//
// Returns "" when the From header carries no user part (some trunks send
// host-only URIs for withheld numbers).
func CallerID(from string) string {
	uri := from

	// Strip display name and angle brackets.
	if i := strings.Index(uri, "<"); i >= 0 {
		uri = uri[i+1:]
		if j := strings.Index(uri, ">"); j >= 0 {
			uri = uri[:j]
		}
	} else if i := strings.Index(uri, ";"); i >= 0 {
		// Bare URI form: header params follow the first semicolon.
		uri = uri[:i]
	}
	uri = strings.TrimSpace(uri)

	for _, scheme := range []string{"sip:", "sips:", "tel:"} {
		if strings.HasPrefix(uri, scheme) {
			uri = uri[len(scheme):]
			break
		}
	}

	user, _, ok := strings.Cut(uri, "@")
	if !ok {
		if strings.HasPrefix(from, "tel:") || strings.Contains(uri, "+") {
			// tel: URIs have no host part.
			user = uri
		} else {
			return ""
		}
	}
	// Drop URI parameters on the user part (e.g. ;phone-context=).
	user, _, _ = strings.Cut(user, ";")
	return user
}
