package registry

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// EndpointValidator checks a solver-supplied endpoint URL is safe to issue
// outbound requests to. Re-run before every outbound request, not
// just at registration, to defend against DNS rebinding.
type EndpointValidator interface {
	Validate(ctx context.Context, endpoint string) error
}

// reservedHostnames blocks well-known cloud metadata endpoints by name,
// since they resolve to addresses that are sometimes allow-listed for
// other reasons.
var reservedHostnames = map[string]struct{}{
	"metadata.google.internal": {},
	"metadata.goog":            {},
	"instance-data":            {},
}

// SSRFValidator implements EndpointValidator: https-only (unless
// dev mode), hostname must resolve to a non-reserved address, resolved at
// validation time and (by the caller, before each request) again just
// before dispatch.
type SSRFValidator struct {
	AllowInsecure bool // dev-mode toggle permitting http://
	Resolver      func(ctx context.Context, host string) ([]net.IP, error)
}

func NewSSRFValidator(allowInsecure bool) *SSRFValidator {
	return &SSRFValidator{
		AllowInsecure: allowInsecure,
		Resolver:      defaultResolve,
	}
}

func defaultResolve(ctx context.Context, host string) ([]net.IP, error) {
	r := &net.Resolver{}
	addrs, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return ips, nil
}

func (v *SSRFValidator) Validate(ctx context.Context, endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !v.AllowInsecure {
			return fmt.Errorf("plain http endpoints are rejected outside dev mode")
		}
	default:
		return fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("endpoint has no hostname")
	}
	if _, reserved := reservedHostnames[strings.ToLower(host)]; reserved {
		return fmt.Errorf("endpoint hostname %q is a reserved metadata host", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}

	resolver := v.Resolver
	if resolver == nil {
		resolver = defaultResolve
	}
	ips, err := resolver(ctx, host)
	if err != nil {
		return fmt.Errorf("could not resolve endpoint hostname: %w", err)
	}
	if len(ips) == 0 {
		return fmt.Errorf("endpoint hostname resolved to no addresses")
	}
	for _, ip := range ips {
		if err := checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

// checkIP rejects loopback, private, link-local, and metadata-range
// addresses (IPv4 and IPv6, including IPv4-mapped IPv6 forms).
func checkIP(ip net.IP) error {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	if ip.IsLoopback() {
		return fmt.Errorf("endpoint resolves to a loopback address")
	}
	if ip.IsPrivate() {
		return fmt.Errorf("endpoint resolves to a private address")
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return fmt.Errorf("endpoint resolves to a link-local address")
	}
	if ip.IsUnspecified() {
		return fmt.Errorf("endpoint resolves to an unspecified address")
	}
	// 169.254.169.254 and the wider link-local /16 are already rejected by
	// IsLinkLocalUnicast above, but ULA (fc00::/7) needs an explicit check
	// since the stdlib has no IsUniqueLocal helper.
	if len(ip) == net.IPv6len && ip[0]&0xfe == 0xfc {
		return fmt.Errorf("endpoint resolves to a unique-local IPv6 address")
	}
	return nil
}
