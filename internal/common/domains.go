package common

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ExtractDomain returns the registrable domain a URL belongs to, lowercased.
// This is the key every site is registered and indexed under.
//
// IP addresses and hosts without a known public suffix (localhost, intranet
// names) are keyed by the bare host. For domains in allowSubdomains, hosts
// on multi-user services keep their subdomain so user1.example.com and
// user2.example.com remain distinct sites.
func ExtractDomain(rawURL string, allowSubdomains []string) string {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.ToLower(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.Trim(host, "[]"), ".")
	if host == "" {
		return ""
	}

	if net.ParseIP(host) != nil {
		return host
	}

	suffix, icann := publicsuffix.PublicSuffix(host)
	if !icann && !strings.Contains(suffix, ".") {
		// Unknown TLD, so the wildcard rule matched the final label.
		// Sites on bare hosts are registered under that label alone.
		return suffix
	}

	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}

	for _, allowed := range allowSubdomains {
		if registrable == strings.ToLower(allowed) && host != registrable {
			return host
		}
	}
	return registrable
}
