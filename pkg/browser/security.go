package browser

import (
	"net"
	"net/url"
	"strings"

	"github.com/selcan/mira/pkg/toolexec"
)

// URLPolicy is the syntactic gate every fetch target passes before any
// connection is made. It rejects non-web schemes and hosts that reach
// infrastructure rather than the web. AllowLocal lifts the loopback
// rule for deliberate local use; link-local and metadata hosts stay
// blocked either way.
type URLPolicy struct {
	AllowLocal bool
}

// metadataHosts name cloud metadata services. Nothing a user asks for
// lives there.
var metadataHosts = map[string]bool{
	"metadata.google.internal": true,
	"metadata.goog":            true,
}

// Validate parses raw and applies the policy, returning the parsed URL
// when it may be fetched.
func (p URLPolicy) Validate(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, toolexec.Validationf("url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, toolexec.Validationf("invalid url %q: %v", raw, err)
	}

	switch u.Scheme {
	case "http", "https":
	case "":
		return nil, toolexec.Validationf("url %q needs an http:// or https:// scheme", raw)
	default:
		return nil, toolexec.Validationf("scheme %q is not fetchable: only http and https are", u.Scheme)
	}

	if u.User != nil {
		return nil, toolexec.Validationf("credentials in urls are not allowed")
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return nil, toolexec.Validationf("url %q has no host", raw)
	}

	if metadataHosts[host] {
		return nil, toolexec.Validationf("host %q is a metadata service, not the web", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		switch {
		case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
			return nil, toolexec.Validationf("link-local address %q is not fetchable", host)
		case ip.IsUnspecified():
			return nil, toolexec.Validationf("address %q is not fetchable", host)
		case ip.IsLoopback() && !p.AllowLocal:
			return nil, toolexec.Validationf("loopback address %q is not fetchable", host)
		}
		return u, nil
	}

	if !p.AllowLocal && (host == "localhost" || strings.HasSuffix(host, ".localhost")) {
		return nil, toolexec.Validationf("local host %q is not fetchable", host)
	}

	return u, nil
}
