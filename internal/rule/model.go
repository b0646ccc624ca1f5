// Package rule implements Gatekeeper's filter engine: a structured
// allow/deny rule list matched against each SOCKS5 CONNECT request by
// destination address, port and protocol.
//
// Grounded on the teacher's rules.Filter (CIDR and domain rule storage) and
// on the original model's ConnectRule/ConnectRulePattern (the Any/Specif
// matcher shape and the tail-wins precedence model).
package rule

import (
	"net"
	"regexp"
	"strings"

	"github.com/gatekeeperd/gatekeeper/internal/socks5"
)

// Verdict is the outcome of evaluating a request against a RuleSet.
type Verdict byte

const (
	Deny Verdict = iota
	Allow
)

func (v Verdict) String() string {
	if v == Allow {
		return "ALLOW"
	}
	return "DENY"
}

// AddressMatcherKind tags which concrete matcher an AddressMatcher carries.
type AddressMatcherKind byte

const (
	addressKindCIDR AddressMatcherKind = iota
	addressKindDomain
	addressKindGeoCountry
)

// AddressMatcher matches either Any destination, or one Specif(...) pattern:
// a CIDR block, a compiled domain regex (from a literal pattern or a
// compiled wildcard), or a GeoIP country code (see SPEC_FULL.md's
// supplemented GeoCountry matcher).
type AddressMatcher struct {
	any        bool
	kind       AddressMatcherKind
	cidr       *net.IPNet
	domainExpr *regexp.Regexp
	country    string // ISO country code, upper-cased
}

// AnyAddress matches every destination.
func AnyAddress() AddressMatcher { return AddressMatcher{any: true} }

// CIDRAddress matches IP destinations falling inside cidr. A domain
// destination never matches (no resolution happens during matching, per
// spec).
func CIDRAddress(cidr *net.IPNet) AddressMatcher {
	return AddressMatcher{kind: addressKindCIDR, cidr: cidr}
}

// DomainRegexAddress matches domain destinations against an already
// compiled, already anchored regex.
func DomainRegexAddress(expr *regexp.Regexp) AddressMatcher {
	return AddressMatcher{kind: addressKindDomain, domainExpr: expr}
}

// GeoCountryAddress matches IP destinations whose GeoIP2 country lookup
// equals country (an ISO 3166-1 alpha-2 code, compared case-insensitively).
func GeoCountryAddress(country string) AddressMatcher {
	return AddressMatcher{kind: addressKindGeoCountry, country: strings.ToUpper(country)}
}

// CountryLookup resolves the ISO country code for an IP literal. Supplied
// by the optional GeoIP2 database; nil when none is configured.
type CountryLookup func(net.IP) (string, bool)

func (m AddressMatcher) matches(addr socks5.Address, geo CountryLookup) bool {
	if m.any {
		return true
	}
	switch m.kind {
	case addressKindCIDR:
		if addr.IsDomain() {
			return false
		}
		return m.cidr.Contains(addr.IP())
	case addressKindDomain:
		if !addr.IsDomain() {
			return false
		}
		return m.domainExpr.MatchString(strings.ToLower(addr.Domain()))
	case addressKindGeoCountry:
		if addr.IsDomain() || geo == nil {
			return false
		}
		code, ok := geo(addr.IP())
		return ok && strings.EqualFold(code, m.country)
	default:
		return false
	}
}

// PortMatcher matches Any port, or one specific port number.
type PortMatcher struct {
	any  bool
	port uint16
}

// AnyPort matches every port.
func AnyPort() PortMatcher { return PortMatcher{any: true} }

// SpecifPort matches exactly port.
func SpecifPort(port uint16) PortMatcher { return PortMatcher{port: port} }

func (m PortMatcher) matches(port uint16) bool {
	return m.any || m.port == port
}

// ProtocolMatcher matches Any protocol, or one specific protocol.
type ProtocolMatcher struct {
	any      bool
	protocol socks5.Protocol
}

// AnyProtocol matches every protocol.
func AnyProtocol() ProtocolMatcher { return ProtocolMatcher{any: true} }

// SpecifProtocol matches exactly protocol.
func SpecifProtocol(protocol socks5.Protocol) ProtocolMatcher {
	return ProtocolMatcher{protocol: protocol}
}

func (m ProtocolMatcher) matches(p socks5.Protocol) bool {
	return m.any || m.protocol == p
}

// Matcher is the conjunction of an address, port and protocol matcher: a
// rule entry matches a request iff all three match.
type Matcher struct {
	Address  AddressMatcher
	Port     PortMatcher
	Protocol ProtocolMatcher
}

// AnyMatcher matches every request; it is the shape the first ("default")
// entry of a RuleSet must have.
func AnyMatcher() Matcher {
	return Matcher{Address: AnyAddress(), Port: AnyPort(), Protocol: AnyProtocol()}
}

// IsAny reports whether every field of m is Any.
func (m Matcher) IsAny() bool {
	return m.Address.any && m.Port.any && m.Protocol.any
}

func (m Matcher) matches(req socks5.ConnectRequest, geo CountryLookup) bool {
	return m.Address.matches(req.Destination, geo) &&
		m.Port.matches(req.Port) &&
		m.Protocol.matches(req.Protocol)
}

// Entry is one Allow(Matcher) or Deny(Matcher) rule.
type Entry struct {
	Verdict Verdict
	Matcher Matcher
}

// Set is an ordered, non-empty sequence of Entry values. The first entry
// must be the "default" entry (Matcher.IsAny() == true); it establishes the
// baseline verdict before any override. Later entries take precedence over
// earlier ones (tail wins). A Set is immutable and safe for concurrent use
// by every session once constructed.
type Set struct {
	entries []Entry
	geo     CountryLookup
}

// NewSet validates entries (non-empty, first entry is the Any/Any/Any
// default) and returns an immutable Set. geo may be nil if no GeoIP
// database is configured; GeoCountry matchers then never match.
func NewSet(entries []Entry, geo CountryLookup) (*Set, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyRuleSet
	}
	if !entries[0].Matcher.IsAny() {
		return nil, ErrMissingDefault
	}
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	return &Set{entries: cp, geo: geo}, nil
}

// Decide evaluates req against the rule set. It walks the list head
// (lowest precedence, the default) to tail (highest precedence), keeping
// the verdict of the last matching entry — algebraically equivalent to
// scanning tail to head and returning the first match (see §8 invariant 2).
func (s *Set) Decide(req socks5.ConnectRequest) Verdict {
	verdict := Deny
	for _, entry := range s.entries {
		if entry.Matcher.matches(req, s.geo) {
			verdict = entry.Verdict
		}
	}
	return verdict
}

// Len reports the number of entries, mainly for diagnostics/tests.
func (s *Set) Len() int { return len(s.entries) }
