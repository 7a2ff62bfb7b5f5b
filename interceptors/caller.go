package interceptors

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// defaultHeaderPriority is the ordered list of metadata keys inspected when
// the caller does not provide explicit headers.
var defaultHeaderPriority = []string{"x-real-ip", "x-forwarded-for"}

// CallerResolver derives the client IP used for per-caller rate-limit keys.
// Forwarding headers are honoured only when the direct peer is a trusted
// proxy, so clients cannot pick their own bucket.
type CallerResolver struct {
	trusted []netip.Prefix
	headers []string
}

// NewCallerResolver parses trustedProxies as CIDRs. headers defaults to
// x-real-ip then x-forwarded-for.
func NewCallerResolver(trustedProxies []string, headers ...string) (CallerResolver, error) {
	cr := CallerResolver{headers: headers}
	if len(cr.headers) == 0 {
		cr.headers = defaultHeaderPriority
	}
	for _, cidr := range trustedProxies {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			return CallerResolver{}, fmt.Errorf("interceptors: trusted proxy %q: %w", cidr, err)
		}
		cr.trusted = append(cr.trusted, p)
	}
	return cr, nil
}

// Resolve returns the effective client address of the request in ctx.
func (cr CallerResolver) Resolve(ctx context.Context) (netip.Addr, bool) {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return netip.Addr{}, false
	}
	peerAddr, ok := parseNetAddr(p.Addr)
	if !ok {
		return netip.Addr{}, false
	}

	if cr.isTrusted(peerAddr) {
		md, _ := metadata.FromIncomingContext(ctx)
		if addr, found := cr.fromHeaders(md); found {
			return addr, true
		}
	}
	return peerAddr, true
}

func (cr CallerResolver) isTrusted(addr netip.Addr) bool {
	for _, p := range cr.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// fromHeaders returns the first valid IP in header priority order. For
// X-Forwarded-For the left-most entry is the original client.
func (cr CallerResolver) fromHeaders(md metadata.MD) (netip.Addr, bool) {
	headers := cr.headers
	if len(headers) == 0 {
		headers = defaultHeaderPriority
	}
	for _, key := range headers {
		for _, v := range md.Get(key) {
			for part := range strings.SplitSeq(v, ",") {
				if ip, err := netip.ParseAddr(strings.TrimSpace(part)); err == nil {
					return ip, true
				}
			}
		}
	}
	return netip.Addr{}, false
}

// parseNetAddr strips any port from addr.
func parseNetAddr(addr net.Addr) (netip.Addr, bool) {
	s := addr.String()
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}
