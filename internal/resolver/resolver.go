// Package resolver implements domain-name resolution for the connector,
// grounded on the teacher's dns.Server (dns/dns.go): a small recursive-DNS
// client over github.com/miekg/dns with a response cache and retry policy,
// generalized into the injectable Resolver the connector (§4.3) expects.
package resolver

import (
	"errors"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// Resolver looks up the IP addresses behind a domain name. The system
// resolver and this recursive client both satisfy it.
type Resolver interface {
	LookupHost(host string) ([]net.IP, error)
}

// DefaultCacheTTL is how long a Recursive resolver caches a successful
// answer when the caller doesn't pick a ttl of its own.
const DefaultCacheTTL = 5 * time.Minute

// System is the net.DefaultResolver-backed Resolver: the OS's own
// resolution path.
type System struct{}

func (System) LookupHost(host string) ([]net.IP, error) {
	return net.LookupIP(host)
}

type cacheEntry struct {
	ips []net.IP
	at  time.Time
}

// Recursive is a direct-to-upstream-server DNS client, caching successful
// answers for ttl and retrying against a random server from the pool on
// timeout.
type Recursive struct {
	mu      sync.RWMutex
	cache   map[string]cacheEntry
	servers []string
	ttl     time.Duration
	retries int
	rng     *rand.Rand
	rngMu   sync.Mutex
}

// NewRecursive builds a Recursive resolver querying servers (each
// "host:port", port defaulting to 53 if omitted) and caching answers for
// ttl.
func NewRecursive(servers []string, ttl time.Duration) *Recursive {
	normalized := make([]string, len(servers))
	for i, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		normalized[i] = s
	}
	return &Recursive{
		cache:   make(map[string]cacheEntry),
		servers: normalized,
		ttl:     ttl,
		retries: len(normalized) * 2,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// LookupHost resolves host's A records, consulting the cache first.
func (r *Recursive) LookupHost(host string) ([]net.IP, error) {
	if ips, ok := r.get(host); ok {
		return ips, nil
	}
	ips, err := r.lookup(host, r.retries)
	if err != nil {
		return nil, err
	}
	r.set(host, ips)
	return ips, nil
}

func (r *Recursive) lookup(host string, triesLeft int) ([]net.IP, error) {
	if len(r.servers) == 0 {
		return nil, errors.New("resolver: no upstream servers configured")
	}

	msg := new(dns.Msg)
	msg.Id = dns.Id()
	msg.RecursionDesired = true
	msg.Question = []dns.Question{{Name: dns.Fqdn(host), Qtype: dns.TypeA, Qclass: dns.ClassINET}}

	server := r.servers[r.randIndex(len(r.servers))]
	in, err := dns.Exchange(msg, server)
	if err != nil {
		if strings.HasSuffix(err.Error(), "i/o timeout") && triesLeft > 0 {
			return r.lookup(host, triesLeft-1)
		}
		return nil, err
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, errors.New(dns.RcodeToString[in.Rcode])
	}

	var ips []net.IP
	for _, rr := range in.Answer {
		if a, ok := rr.(*dns.A); ok {
			ips = append(ips, a.A)
		}
	}
	if len(ips) == 0 {
		return nil, errors.New("resolver: no A records")
	}
	return ips, nil
}

func (r *Recursive) randIndex(n int) int {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.rng.Intn(n)
}

func (r *Recursive) get(host string) ([]net.IP, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[host]
	if !ok || time.Since(entry.at) >= r.ttl {
		return nil, false
	}
	return entry.ips, true
}

func (r *Recursive) set(host string, ips []net.IP) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[host] = cacheEntry{ips: ips, at: time.Now()}
}
