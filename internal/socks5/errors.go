package socks5

import "errors"

// ErrBadVersion is returned when the first byte of a client message is not
// the SOCKS5 version byte.
var ErrBadVersion = errors.New("socks5: unsupported protocol version")

// ErrTruncated is returned when the stream closes before a full frame has
// arrived.
var ErrTruncated = errors.New("socks5: truncated frame")

// ErrAddressTypeNotSupported is returned when ATYP is none of IPv4, IPv6 or
// domain name.
var ErrAddressTypeNotSupported = errors.New("socks5: unsupported address type")

// ErrDomainTooLong is returned when a domain name exceeds 255 bytes.
var ErrDomainTooLong = errors.New("socks5: domain name exceeds 255 bytes")
