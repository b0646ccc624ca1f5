package rule

import (
	"net"
	"testing"

	"github.com/gatekeeperd/gatekeeper/internal/socks5"
)

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		t.Fatalf("ParseCIDR(%q): %v", s, err)
	}
	return n
}

func connectTo(addr socks5.Address, port uint16) socks5.ConnectRequest {
	return socks5.ConnectRequest{Destination: addr, Port: port, Protocol: socks5.ProtocolTCP}
}

func TestSetRejectsEmpty(t *testing.T) {
	if _, err := NewSet(nil, nil); err != ErrEmptyRuleSet {
		t.Fatalf("got %v, want ErrEmptyRuleSet", err)
	}
}

func TestSetRejectsMissingDefault(t *testing.T) {
	entries := []Entry{
		{Verdict: Allow, Matcher: Matcher{Address: CIDRAddress(mustCIDR(t, "10.0.0.0/8")), Port: AnyPort(), Protocol: AnyProtocol()}},
	}
	if _, err := NewSet(entries, nil); err != ErrMissingDefault {
		t.Fatalf("got %v, want ErrMissingDefault", err)
	}
}

func TestDecideAllowAny(t *testing.T) {
	set, err := NewSet([]Entry{{Verdict: Allow, Matcher: AnyMatcher()}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	req := connectTo(socks5.NewIPAddress(net.ParseIP("192.168.0.1")), 80)
	if got := set.Decide(req); got != Allow {
		t.Fatalf("got %v, want Allow", got)
	}
}

func TestDecideDenyByDomainOverridesDefaultAllow(t *testing.T) {
	expr, err := CompileDomainRegex(`\Aevil\.com\z`)
	if err != nil {
		t.Fatal(err)
	}
	set, err := NewSet([]Entry{
		{Verdict: Allow, Matcher: AnyMatcher()},
		{Verdict: Deny, Matcher: Matcher{Address: DomainRegexAddress(expr), Port: AnyPort(), Protocol: AnyProtocol()}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	denied := connectTo(socks5.NewDomainAddress("evil.com"), 443)
	if got := set.Decide(denied); got != Deny {
		t.Fatalf("evil.com: got %v, want Deny", got)
	}
	allowed := connectTo(socks5.NewDomainAddress("good.com"), 443)
	if got := set.Decide(allowed); got != Allow {
		t.Fatalf("good.com: got %v, want Allow", got)
	}
}

func TestDecideCIDRAllowOverridesDefaultDeny(t *testing.T) {
	set, err := NewSet([]Entry{
		{Verdict: Deny, Matcher: AnyMatcher()},
		{Verdict: Allow, Matcher: Matcher{Address: CIDRAddress(mustCIDR(t, "10.0.0.0/8")), Port: AnyPort(), Protocol: AnyProtocol()}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	inside := connectTo(socks5.NewIPAddress(net.ParseIP("10.1.2.3")), 22)
	if got := set.Decide(inside); got != Allow {
		t.Fatalf("10.1.2.3: got %v, want Allow", got)
	}
	outside := connectTo(socks5.NewIPAddress(net.ParseIP("11.0.0.1")), 22)
	if got := set.Decide(outside); got != Deny {
		t.Fatalf("11.0.0.1: got %v, want Deny", got)
	}
}

func TestDecideTailWins(t *testing.T) {
	cidr := mustCIDR(t, "10.0.0.0/8")
	set, err := NewSet([]Entry{
		{Verdict: Deny, Matcher: AnyMatcher()},
		{Verdict: Allow, Matcher: Matcher{Address: CIDRAddress(cidr), Port: AnyPort(), Protocol: AnyProtocol()}},
		{Verdict: Deny, Matcher: Matcher{Address: CIDRAddress(cidr), Port: SpecifPort(22), Protocol: AnyProtocol()}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	// last matching entry (deny port 22) wins over the earlier allow.
	req := connectTo(socks5.NewIPAddress(net.ParseIP("10.1.2.3")), 22)
	if got := set.Decide(req); got != Deny {
		t.Fatalf("got %v, want Deny", got)
	}
	// a different port only matches the allow entry.
	req2 := connectTo(socks5.NewIPAddress(net.ParseIP("10.1.2.3")), 443)
	if got := set.Decide(req2); got != Allow {
		t.Fatalf("got %v, want Allow", got)
	}
}

func TestDecideDomainNeverMatchesIPRule(t *testing.T) {
	set, err := NewSet([]Entry{
		{Verdict: Deny, Matcher: AnyMatcher()},
		{Verdict: Allow, Matcher: Matcher{Address: CIDRAddress(mustCIDR(t, "0.0.0.0/0")), Port: AnyPort(), Protocol: AnyProtocol()}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	req := connectTo(socks5.NewDomainAddress("example.com"), 80)
	if got := set.Decide(req); got != Deny {
		t.Fatalf("domain request must not match an IP-only CIDR rule: got %v", got)
	}
}

// stubCountryLookup is a fake GeoIP database: it only knows about the IPs
// in its map, mirroring how internal/rule/geoip.go's Lookup behaves for an
// address it can't classify.
type stubCountryLookup map[string]string

func (s stubCountryLookup) lookup(ip net.IP) (string, bool) {
	code, ok := s[ip.String()]
	return code, ok
}

func TestDecideGeoCountryAllowOverridesDefaultDeny(t *testing.T) {
	geo := stubCountryLookup{
		"203.0.113.10": "FR",
		"203.0.113.20": "DE",
	}
	set, err := NewSet([]Entry{
		{Verdict: Deny, Matcher: AnyMatcher()},
		{Verdict: Allow, Matcher: Matcher{Address: GeoCountryAddress("fr"), Port: AnyPort(), Protocol: AnyProtocol()}},
	}, geo.lookup)
	if err != nil {
		t.Fatal(err)
	}

	french := connectTo(socks5.NewIPAddress(net.ParseIP("203.0.113.10")), 443)
	if got := set.Decide(french); got != Allow {
		t.Fatalf("203.0.113.10 (FR): got %v, want Allow", got)
	}

	german := connectTo(socks5.NewIPAddress(net.ParseIP("203.0.113.20")), 443)
	if got := set.Decide(german); got != Deny {
		t.Fatalf("203.0.113.20 (DE): got %v, want Deny", got)
	}

	unknown := connectTo(socks5.NewIPAddress(net.ParseIP("198.51.100.1")), 443)
	if got := set.Decide(unknown); got != Deny {
		t.Fatalf("address with no GeoIP record: got %v, want Deny", got)
	}
}

func TestDecideGeoCountryNeverMatchesDomain(t *testing.T) {
	geo := stubCountryLookup{}
	set, err := NewSet([]Entry{
		{Verdict: Deny, Matcher: AnyMatcher()},
		{Verdict: Allow, Matcher: Matcher{Address: GeoCountryAddress("fr"), Port: AnyPort(), Protocol: AnyProtocol()}},
	}, geo.lookup)
	if err != nil {
		t.Fatal(err)
	}
	req := connectTo(socks5.NewDomainAddress("example.com"), 443)
	if got := set.Decide(req); got != Deny {
		t.Fatalf("domain request must not match a GeoCountry rule: got %v", got)
	}
}

func TestDecideGeoCountryWithoutDatabaseNeverMatches(t *testing.T) {
	set, err := NewSet([]Entry{
		{Verdict: Deny, Matcher: AnyMatcher()},
		{Verdict: Allow, Matcher: Matcher{Address: GeoCountryAddress("fr"), Port: AnyPort(), Protocol: AnyProtocol()}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	req := connectTo(socks5.NewIPAddress(net.ParseIP("203.0.113.10")), 443)
	if got := set.Decide(req); got != Deny {
		t.Fatalf("GeoCountry rule with no database configured must never match: got %v", got)
	}
}

func TestIPv6CIDRPrefix(t *testing.T) {
	set, err := NewSet([]Entry{
		{Verdict: Deny, Matcher: AnyMatcher()},
		{Verdict: Allow, Matcher: Matcher{Address: CIDRAddress(mustCIDR(t, "ff01::/32")), Port: AnyPort(), Protocol: AnyProtocol()}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	match := connectTo(socks5.NewIPAddress(net.ParseIP("ff01::1")), 80)
	if got := set.Decide(match); got != Allow {
		t.Fatalf("got %v, want Allow", got)
	}
	nomatch := connectTo(socks5.NewIPAddress(net.ParseIP("ffff::1")), 80)
	if got := set.Decide(nomatch); got != Deny {
		t.Fatalf("got %v, want Deny", got)
	}
}
