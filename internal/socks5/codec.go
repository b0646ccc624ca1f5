package socks5

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// MethodSelection is the client's opening handshake: the version byte plus
// the list of authentication methods it is willing to use.
type MethodSelection struct {
	Version byte
	Methods []byte
}

// Accepts reports whether method is one of the candidates the client
// offered.
func (m MethodSelection) Accepts(method byte) bool {
	for _, candidate := range m.Methods {
		if candidate == method {
			return true
		}
	}
	return false
}

// ReadMethodSelection parses "VER NMETHODS METHODS[NMETHODS]" from r,
// grounded on the teacher's handShake (socks/shake.go): read the fixed
// header first, then the variable-length tail it describes.
func ReadMethodSelection(r io.Reader) (MethodSelection, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return MethodSelection{}, wrapTruncated(err)
	}
	if hdr[0] != Version {
		return MethodSelection{}, ErrBadVersion
	}
	nmethods := int(hdr[1])
	methods := make([]byte, nmethods)
	if nmethods > 0 {
		if _, err := io.ReadFull(r, methods); err != nil {
			return MethodSelection{}, wrapTruncated(err)
		}
	}
	return MethodSelection{Version: hdr[0], Methods: methods}, nil
}

// WriteMethodSelectionReply writes "VER METHOD". The caller picks method:
// MethodNoAuth if offered, MethodNoAcceptable otherwise.
func WriteMethodSelectionReply(w io.Writer, method byte) error {
	_, err := w.Write([]byte{Version, method})
	return err
}

// ReadRequest parses "VER CMD RSV ATYP DST.ADDR DST.PORT" into a
// ConnectRequest. Only CmdConnect is accepted by the session layer; other
// commands are still fully parsed here so the caller can emit the correct
// reply code before closing.
func ReadRequest(r io.Reader) (req ConnectRequest, cmd byte, err error) {
	var hdr [4]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return ConnectRequest{}, 0, wrapTruncated(err)
	}
	if hdr[0] != Version {
		return ConnectRequest{}, 0, ErrBadVersion
	}
	cmd = hdr[1]
	// hdr[2] is RSV, always 0x00; not validated, matching common server
	// practice of tolerating stray values there.
	atyp := hdr[3]

	dest, err := readAddress(r, atyp)
	if err != nil {
		return ConnectRequest{}, 0, err
	}

	var portBuf [2]byte
	if _, err = io.ReadFull(r, portBuf[:]); err != nil {
		return ConnectRequest{}, 0, wrapTruncated(err)
	}
	port := binary.BigEndian.Uint16(portBuf[:])

	return ConnectRequest{Destination: dest, Port: port, Protocol: ProtocolTCP}, cmd, nil
}

func readAddress(r io.Reader, atyp byte) (Address, error) {
	switch atyp {
	case AtypIPv4:
		buf := make([]byte, net.IPv4len)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Address{}, wrapTruncated(err)
		}
		return NewIPAddress(net.IP(buf)), nil
	case AtypIPv6:
		buf := make([]byte, net.IPv6len)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Address{}, wrapTruncated(err)
		}
		return NewIPAddress(net.IP(buf)), nil
	case AtypDomainName:
		var lenBuf [1]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return Address{}, wrapTruncated(err)
		}
		buf := make([]byte, lenBuf[0])
		if len(buf) > 0 {
			if _, err := io.ReadFull(r, buf); err != nil {
				return Address{}, wrapTruncated(err)
			}
		}
		return NewDomainAddress(string(buf)), nil
	default:
		return Address{}, ErrAddressTypeNotSupported
	}
}

// WriteReply writes the 10+ byte SOCKS5 reply: "VER REP RSV ATYP
// BND.ADDR BND.PORT". On failure (replyCode != RepSucceeded) the caller is
// expected to pass a zero Address and port; WriteReply then emits the
// canonical all-zero IPv4 BND per §4.1.
func WriteReply(w io.Writer, replyCode byte, bnd Address, bndPort uint16) error {
	buf := make([]byte, 0, MaxAddrLen+3)
	buf = append(buf, Version, replyCode, 0x00)

	switch bnd.Kind() {
	case KindIPv4:
		buf = append(buf, AtypIPv4)
		buf = append(buf, bnd.IP().To4()...)
	case KindIPv6:
		buf = append(buf, AtypIPv6)
		buf = append(buf, bnd.IP().To16()...)
	case KindFQDN:
		if len(bnd.Domain()) > 255 {
			return ErrDomainTooLong
		}
		buf = append(buf, AtypDomainName, byte(len(bnd.Domain())))
		buf = append(buf, bnd.Domain()...)
	default:
		// zero Address{}: emit the canonical failure BND, ATYP=IPv4,
		// four zero bytes.
		buf = append(buf, AtypIPv4, 0, 0, 0, 0)
	}

	portBuf := [2]byte{}
	binary.BigEndian.PutUint16(portBuf[:], bndPort)
	buf = append(buf, portBuf[:]...)

	_, err := w.Write(buf)
	return err
}

func wrapTruncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrTruncated
	}
	return fmt.Errorf("socks5: read frame: %w", err)
}
