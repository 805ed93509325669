package sip

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// challenge is a parsed WWW-Authenticate / Proxy-Authenticate header.
type challenge struct {
	Realm     string
	Nonce     string
	Opaque    string
	Algorithm string
	QOP       string
}

// parseChallenge parses `Digest realm="...", nonce="..."` style values.
func parseChallenge(value string) (*challenge, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok || !strings.EqualFold(scheme, "Digest") {
		return nil, fmt.Errorf("sip: unsupported auth scheme in %q", value)
	}

	ch := &challenge{Algorithm: "MD5"}
	for _, part := range strings.Split(rest, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		v = strings.Trim(v, `"`)
		switch strings.ToLower(k) {
		case "realm":
			ch.Realm = v
		case "nonce":
			ch.Nonce = v
		case "opaque":
			ch.Opaque = v
		case "algorithm":
			ch.Algorithm = v
		case "qop":
			// Servers may offer "auth,auth-int"; we only do auth.
			for _, q := range strings.Split(v, ",") {
				if strings.TrimSpace(q) == "auth" {
					ch.QOP = "auth"
				}
			}
		}
	}
	if ch.Nonce == "" || ch.Realm == "" {
		return nil, fmt.Errorf("sip: challenge missing realm or nonce: %q", value)
	}
	if !strings.EqualFold(ch.Algorithm, "MD5") {
		return nil, fmt.Errorf("sip: unsupported digest algorithm %q", ch.Algorithm)
	}
	return ch, nil
}

// authorize computes the Authorization header value answering ch for the
// given request. RFC 2617 MD5 with optional qop=auth.
func authorize(ch *challenge, username, password string, method Method, uri string) string {
	ha1 := md5hex(fmt.Sprintf("%s:%s:%s", username, ch.Realm, password))
	ha2 := md5hex(fmt.Sprintf("%s:%s", method, uri))

	var response, cnonce string
	const nc = "00000001"
	if ch.QOP == "auth" {
		cnonce = randomHex(8)
		response = md5hex(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, ch.Nonce, nc, cnonce, ch.QOP, ha2))
	} else {
		response = md5hex(fmt.Sprintf("%s:%s:%s", ha1, ch.Nonce, ha2))
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s", algorithm=MD5`,
		username, ch.Realm, ch.Nonce, uri, response)
	if ch.QOP == "auth" {
		fmt.Fprintf(&b, `, qop=auth, nc=%s, cnonce="%s"`, nc, cnonce)
	}
	if ch.Opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, ch.Opaque)
	}
	return b.String()
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
