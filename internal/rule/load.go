package rule

import (
	"fmt"
	"net"

	"github.com/gatekeeperd/gatekeeper/internal/socks5"
	"gopkg.in/yaml.v3"
)

// yamlEntry is the on-disk shape of one rule entry. "address", "port" and
// "protocol" are either the literal string "any" or a one-key mapping
// naming the Specif(...) variant, mirroring the Any/Specif split of §3.
type yamlEntry struct {
	Action   string    `yaml:"action"`
	Address  yaml.Node `yaml:"address"`
	Port     yaml.Node `yaml:"port"`
	Protocol yaml.Node `yaml:"protocol"`
}

type yamlAddress struct {
	CIDR       string `yaml:"cidr"`
	Domain     *yamlDomain `yaml:"domain"`
	GeoCountry string `yaml:"geo_country"`
}

type yamlDomain struct {
	Pattern  string `yaml:"pattern"`
	Wildcard string `yaml:"wildcard"`
}

// Decode parses a YAML rule file's bytes into a validated Set. Whether geo
// is nil controls whether geo_country matchers are accepted at load time (a
// rule set referencing GeoIP without a configured database is a
// ConfigError, per SPEC_FULL.md). Errors from an individual entry are
// wrapped with its index; errors.Is still finds the sentinel.
func Decode(data []byte, geo CountryLookup) (*Set, error) {
	var raw []yamlEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("rule: parse yaml: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for i, re := range raw {
		entry, err := decodeEntry(re, geo != nil)
		if err != nil {
			return nil, fmt.Errorf("rule: entry %d: %w", i, err)
		}
		entries = append(entries, entry)
	}
	return NewSet(entries, geo)
}

// Encode serializes a Set back to the YAML rule-file format. Used by the
// round-trip property in §8.
func Encode(s *Set) ([]byte, error) {
	raw := make([]yamlEntry, 0, len(s.entries))
	for _, e := range s.entries {
		ye, err := encodeEntry(e)
		if err != nil {
			return nil, err
		}
		raw = append(raw, ye)
	}
	return yaml.Marshal(raw)
}

func decodeEntry(re yamlEntry, hasGeoDB bool) (Entry, error) {
	var verdict Verdict
	switch re.Action {
	case "allow", "ALLOW", "Allow":
		verdict = Allow
	case "deny", "DENY", "Deny":
		verdict = Deny
	default:
		return Entry{}, fmt.Errorf("rule: unknown action %q", re.Action)
	}

	addr, err := decodeAddress(re.Address, hasGeoDB)
	if err != nil {
		return Entry{}, err
	}
	port, err := decodePort(re.Port)
	if err != nil {
		return Entry{}, err
	}
	proto, err := decodeProtocol(re.Protocol)
	if err != nil {
		return Entry{}, err
	}

	return Entry{
		Verdict: verdict,
		Matcher: Matcher{Address: addr, Port: port, Protocol: proto},
	}, nil
}

func isAnyNode(n yaml.Node) bool {
	return n.Kind == 0 || (n.Kind == yaml.ScalarNode && (n.Value == "any" || n.Value == ""))
}

func decodeAddress(n yaml.Node, hasGeoDB bool) (AddressMatcher, error) {
	if isAnyNode(n) {
		return AnyAddress(), nil
	}
	var spec yamlAddress
	if err := n.Decode(&spec); err != nil {
		return AddressMatcher{}, fmt.Errorf("rule: decode address: %w", err)
	}

	set := 0
	if spec.CIDR != "" {
		set++
	}
	if spec.Domain != nil {
		set++
	}
	if spec.GeoCountry != "" {
		set++
	}
	if set != 1 {
		return AddressMatcher{}, fmt.Errorf("rule: address must set exactly one of cidr, domain, geo_country")
	}

	switch {
	case spec.CIDR != "":
		_, ipnet, err := net.ParseCIDR(spec.CIDR)
		if err != nil {
			return AddressMatcher{}, fmt.Errorf("%w: %s: %v", ErrInvalidCIDR, spec.CIDR, err)
		}
		return CIDRAddress(ipnet), nil
	case spec.Domain != nil:
		hasPattern := spec.Domain.Pattern != ""
		hasWildcard := spec.Domain.Wildcard != ""
		if hasPattern && hasWildcard {
			return AddressMatcher{}, ErrAmbiguousDomainPattern
		}
		if hasPattern {
			expr, err := CompileDomainRegex(spec.Domain.Pattern)
			if err != nil {
				return AddressMatcher{}, fmt.Errorf("%w: %s: %v", ErrInvalidRegex, spec.Domain.Pattern, err)
			}
			return DomainRegexAddress(expr), nil
		}
		if hasWildcard {
			expr, err := CompileWildcard(spec.Domain.Wildcard)
			if err != nil {
				return AddressMatcher{}, fmt.Errorf("%w: %s: %v", ErrInvalidRegex, spec.Domain.Wildcard, err)
			}
			return DomainRegexAddress(expr), nil
		}
		return AddressMatcher{}, fmt.Errorf("rule: domain matcher needs pattern or wildcard")
	case spec.GeoCountry != "":
		if !hasGeoDB {
			return AddressMatcher{}, ErrGeoCountryWithoutDatabase
		}
		return GeoCountryAddress(spec.GeoCountry), nil
	default:
		return AddressMatcher{}, fmt.Errorf("rule: unreachable address decode")
	}
}

func decodePort(n yaml.Node) (PortMatcher, error) {
	if isAnyNode(n) {
		return AnyPort(), nil
	}
	var port uint16
	if err := n.Decode(&port); err != nil {
		return PortMatcher{}, fmt.Errorf("rule: decode port: %w", err)
	}
	return SpecifPort(port), nil
}

func decodeProtocol(n yaml.Node) (ProtocolMatcher, error) {
	if isAnyNode(n) {
		return AnyProtocol(), nil
	}
	var name string
	if err := n.Decode(&name); err != nil {
		return ProtocolMatcher{}, fmt.Errorf("rule: decode protocol: %w", err)
	}
	switch name {
	case "tcp", "TCP", "Tcp":
		return SpecifProtocol(socks5.ProtocolTCP), nil
	default:
		return ProtocolMatcher{}, fmt.Errorf("rule: unknown protocol %q", name)
	}
}

func encodeEntry(e Entry) (yamlEntry, error) {
	action := "deny"
	if e.Verdict == Allow {
		action = "allow"
	}

	var addrNode yaml.Node
	if e.Matcher.Address.any {
		_ = addrNode.Encode("any")
	} else {
		switch e.Matcher.Address.kind {
		case addressKindCIDR:
			_ = addrNode.Encode(yamlAddress{CIDR: e.Matcher.Address.cidr.String()})
		case addressKindDomain:
			_ = addrNode.Encode(yamlAddress{Domain: &yamlDomain{Pattern: e.Matcher.Address.domainExpr.String()}})
		case addressKindGeoCountry:
			_ = addrNode.Encode(yamlAddress{GeoCountry: e.Matcher.Address.country})
		}
	}

	var portNode yaml.Node
	if e.Matcher.Port.any {
		_ = portNode.Encode("any")
	} else {
		_ = portNode.Encode(e.Matcher.Port.port)
	}

	var protoNode yaml.Node
	if e.Matcher.Protocol.any {
		_ = protoNode.Encode("any")
	} else {
		_ = protoNode.Encode(e.Matcher.Protocol.protocol.String())
	}

	return yamlEntry{
		Action:   action,
		Address:  addrNode,
		Port:     portNode,
		Protocol: protoNode,
	}, nil
}
