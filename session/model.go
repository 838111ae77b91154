package session

import "strings"

// RevokedMarker is the payload written under a revoked access token.
const RevokedMarker = "logout"

// Pair is the access/refresh token pair currently authoritative for one
// client context. A Pair is replaced as a whole, never edited in place.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Matches reports whether the presented tokens are byte-for-byte equal to
// the stored pair.
func (p Pair) Matches(accessToken, refreshToken string) bool {
	return p.AccessToken == accessToken && p.RefreshToken == refreshToken
}

// PairKey builds the client context key "RT(<namespace>):<principal>:<clientAddr>".
// Different client addresses for the same principal are independent sessions.
func PairKey(namespace, principal, clientAddr string) string {
	var b strings.Builder
	b.Grow(len(namespace) + len(principal) + len(clientAddr) + 6)
	b.WriteString("RT(")
	b.WriteString(namespace)
	b.WriteString("):")
	b.WriteString(principal)
	b.WriteByte(':')
	b.WriteString(clientAddr)
	return b.String()
}

// RevocationKey returns the key under which a revocation marker for
// accessToken is stored. With an empty prefix the key is the literal token.
func RevocationKey(prefix, accessToken string) string {
	if prefix == "" {
		return accessToken
	}
	return prefix + accessToken
}
