// Package normalize contains functions to normalize usernames, domains and
// addresses.
package normalize

import (
	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"

	"blitiri.com.ar/go/correo/internal/envelope"
)

// User normalices an username using PRECIS.
// On error, it will also return the original username to simplify callers.
func User(user string) (string, error) {
	norm, err := precis.UsernameCaseMapped.String(user)
	if err != nil {
		return user, err
	}

	return norm, nil
}

// Domain normalizes a domain to its ASCII (punycode) form via IDNA, so
// that comparisons and map lookups are stable regardless of how the peer
// spelled an internationalized domain.
// On error, it will also return the original domain to simplify callers.
func Domain(domain string) (string, error) {
	norm, err := idna.ToASCII(domain)
	if err != nil {
		return domain, err
	}

	return norm, nil
}

// DomainToUnicode converts a domain from its ASCII (punycode) form back to
// Unicode, for display purposes (e.g. logging).
// On error, it will also return the original domain to simplify callers.
func DomainToUnicode(domain string) (string, error) {
	norm, err := idna.ToUnicode(domain)
	if err != nil {
		return domain, err
	}

	return norm, nil
}

// Addr normalizes an email address: the user part with User (PRECIS) and
// the domain part with Domain (IDNA).
// On error, it will also return the original address to simplify callers.
func Addr(addr string) (string, error) {
	user, domain := envelope.Split(addr)

	user, err := User(user)
	if err != nil {
		return addr, err
	}

	domain, err = Domain(domain)
	if err != nil {
		return addr, err
	}

	return user + "@" + domain, nil
}
