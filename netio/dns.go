package netio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// ReverseLookup resolves ip to a hostname via PTR query against the
// given resolver address ("host:53"). Returns the first PTR target
// with the trailing dot trimmed, or an error if none resolve within
// the timeout.
func ReverseLookup(ctx context.Context, resolver, ip string) (string, error) {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", err
	}
	m := new(dns.Msg)
	m.SetQuestion(arpa, dns.TypePTR)
	m.RecursionDesired = true

	c := new(dns.Client)
	c.Timeout = 3 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < c.Timeout {
			c.Timeout = d
		}
	}
	in, _, err := c.Exchange(m, resolver)
	if err != nil {
		return "", err
	}
	for _, rr := range in.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}
	return "", fmt.Errorf("netio: no PTR record for %s", ip)
}

// ForwardConfirm resolves host's A records via resolver and reports
// whether ip appears among them — the forward-confirmation half of
// forward-confirmed reverse DNS. AAAA records are not queried, so an
// IPv6 ip never confirms.
func ForwardConfirm(ctx context.Context, resolver, host, ip string) (bool, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true

	c := new(dns.Client)
	c.Timeout = 3 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < c.Timeout {
			c.Timeout = d
		}
	}
	in, _, err := c.Exchange(m, resolver)
	if err != nil {
		return false, err
	}
	for _, rr := range in.Answer {
		if a, ok := rr.(*dns.A); ok && a.A.String() == ip {
			return true, nil
		}
	}
	return false, nil
}
