package socks5

import (
	"fmt"
	"net"
	"strconv"
)

// Kind tags the variant carried by an Address.
type Kind byte

const (
	KindIPv4 Kind = Kind(AtypIPv4)
	KindIPv6 Kind = Kind(AtypIPv6)
	KindFQDN Kind = Kind(AtypDomainName)
)

// Address is a uniform, immutable representation of a SOCKS5 destination:
// an IPv4 address, an IPv6 address, or a domain name. The zero value is not
// valid; construct with NewIPAddress or NewDomainAddress.
type Address struct {
	kind   Kind
	ip     net.IP // 4 or 16 bytes, set iff kind is KindIPv4/KindIPv6
	domain string // set iff kind is KindFQDN
}

// NewIPAddress builds an Address from a net.IP, classifying it as IPv4 or
// IPv6 by its effective length.
func NewIPAddress(ip net.IP) Address {
	if v4 := ip.To4(); v4 != nil {
		return Address{kind: KindIPv4, ip: v4}
	}
	return Address{kind: KindIPv6, ip: ip.To16()}
}

// NewDomainAddress builds an Address from a domain label. The caller must
// ensure len(domain) <= 255; ReadRequest enforces this on the wire path.
func NewDomainAddress(domain string) Address {
	return Address{kind: KindFQDN, domain: domain}
}

// Kind reports which variant this Address carries.
func (a Address) Kind() Kind { return a.kind }

// IP returns the wrapped IP address. Valid only when Kind is KindIPv4 or
// KindIPv6.
func (a Address) IP() net.IP { return a.ip }

// Domain returns the wrapped domain label. Valid only when Kind is
// KindFQDN.
func (a Address) Domain() string { return a.domain }

// IsDomain reports whether this address is a domain name rather than an IP
// literal.
func (a Address) IsDomain() bool { return a.kind == KindFQDN }

func (a Address) String() string {
	switch a.kind {
	case KindIPv4, KindIPv6:
		return a.ip.String()
	case KindFQDN:
		return a.domain
	default:
		return "<invalid address>"
	}
}

// Protocol is a tagged variant over the transport protocols a ConnectRequest
// may name. Only Tcp exists today; the type stays a variant so future
// protocols (e.g. Udp for UDP ASSOCIATE) extend without breaking rule files.
type Protocol byte

const (
	ProtocolTCP Protocol = iota
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// ConnectRequest is the parsed, validated payload of a SOCKS5 CONNECT
// request: the input to the rule matcher.
type ConnectRequest struct {
	Destination Address
	Port        uint16
	Protocol    Protocol
}

// HostPort renders destination and port the way net.Dial expects.
func (r ConnectRequest) HostPort() string {
	return net.JoinHostPort(r.Destination.String(), strconv.Itoa(int(r.Port)))
}

func (r ConnectRequest) String() string {
	return fmt.Sprintf("%s:%d/%s", r.Destination, r.Port, r.Protocol)
}
