package sip

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"

	"github.com/miekg/dns"
)

const defaultSIPPort = 5060

// Resolver locates the UDP address of a SIP registrar following the RFC 3263
// subset relevant to a UDP-only agent: NAPTR (SIP+D2U) -> SRV (_sip._udp) ->
// A/AAAA, short-circuiting when the target is a literal IP or carries an
// explicit port.
type Resolver struct {
	log *slog.Logger

	// dnsServer overrides the system resolver for NAPTR lookups; miekg/dns
	// speaks to a server directly rather than through libc.
	dnsServer string
}

func NewResolver(log *slog.Logger) *Resolver {
	server := dnsServerFromSystem()
	return &Resolver{log: log, dnsServer: server}
}

// Resolve returns the UDP address to send registrar traffic to.
func (r *Resolver) Resolve(ctx context.Context, host string, port int) (*net.UDPAddr, error) {
	if ip := net.ParseIP(host); ip != nil {
		if port == 0 {
			port = defaultSIPPort
		}
		return &net.UDPAddr{IP: ip, Port: port}, nil
	}

	// An explicit port disables NAPTR/SRV per RFC 3263 section 4.1.
	if port != 0 {
		return r.lookupHost(ctx, host, port)
	}

	if target := r.naptrTarget(host); target != "" {
		host = target
	}

	if addr, err := r.lookupSRV(ctx, host); err == nil {
		return addr, nil
	}
	return r.lookupHost(ctx, host, defaultSIPPort)
}

// naptrTarget queries NAPTR records for the SIP+D2U service and returns the
// replacement domain of the best record, or "" when unavailable.
func (r *Resolver) naptrTarget(host string) string {
	if r.dnsServer == "" {
		return ""
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeNAPTR)
	in, err := dns.Exchange(m, r.dnsServer)
	if err != nil {
		r.log.Debug("naptr lookup failed", "host", host, "error", err)
		return ""
	}

	type candidate struct {
		order, pref uint16
		target      string
	}
	var cands []candidate
	for _, rr := range in.Answer {
		naptr, ok := rr.(*dns.NAPTR)
		if !ok {
			continue
		}
		if !strings.EqualFold(naptr.Service, "SIP+D2U") {
			continue
		}
		cands = append(cands, candidate{
			order:  naptr.Order,
			pref:   naptr.Preference,
			target: strings.TrimSuffix(naptr.Replacement, "."),
		})
	}
	if len(cands) == 0 {
		return ""
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].order != cands[j].order {
			return cands[i].order < cands[j].order
		}
		return cands[i].pref < cands[j].pref
	})
	// NAPTR replacement is the SRV owner name, e.g. _sip._udp.example.com;
	// lookupSRV prepends the service labels itself, so strip them here.
	return strings.TrimPrefix(cands[0].target, "_sip._udp.")
}

func (r *Resolver) lookupSRV(ctx context.Context, host string) (*net.UDPAddr, error) {
	_, srvs, err := net.DefaultResolver.LookupSRV(ctx, "sip", "udp", host)
	if err != nil || len(srvs) == 0 {
		return nil, fmt.Errorf("sip: no srv records for %s: %w", host, err)
	}
	// LookupSRV returns records sorted by priority and randomized by weight.
	for _, srv := range srvs {
		addr, err := r.lookupHost(ctx, strings.TrimSuffix(srv.Target, "."), int(srv.Port))
		if err == nil {
			return addr, nil
		}
	}
	return nil, fmt.Errorf("sip: srv targets for %s did not resolve", host)
}

func (r *Resolver) lookupHost(ctx context.Context, host string, port int) (*net.UDPAddr, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil || len(ips) == 0 {
		return nil, fmt.Errorf("sip: resolve %s: %w", host, err)
	}
	return &net.UDPAddr{IP: ips[0], Port: port}, nil
}

// dnsServerFromSystem reads the first nameserver out of resolv.conf so NAPTR
// queries go to the same place everything else does.
func dnsServerFromSystem() string {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return ""
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port)
}

// localIPToward reports the local IP the OS would use to reach addr, used in
// Via/Contact headers so responses route back without rport tricks.
func localIPToward(addr *net.UDPAddr) string {
	conn, err := net.Dial("udp", addr.String())
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
