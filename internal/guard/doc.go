// Package guard implements the domain allowlist consulted before every
// outbound request.
//
// A URL is allowed when its host equals a trusted host or is a subdomain of
// one, split on a dot boundary:
//
//	a := guard.New([]string{"trusted.org"})
//	a.IsAllowed("https://sub.trusted.org/x.jpg")      // true
//	a.IsAllowed("https://trusted.org.evil.com/x.jpg") // false
//
// Anything that fails to parse, has no host, carries userinfo, or uses a
// scheme other than http/https is rejected.
package guard
