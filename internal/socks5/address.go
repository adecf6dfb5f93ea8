package socks5

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
)

// MaxDomainNameBytes is the largest domain name the wire format can
// carry (the length prefix is one byte).
const MaxDomainNameBytes = 255

// Address is a decoded SOCKS5 address: either an IP literal (v4 or v6)
// or a domain name, paired with a port. Exactly one of IP or Name is
// set, matching the wire's tagged-union encoding.
type Address struct {
	Type AddrType
	IP   net.IP
	Name string
	Port uint16
}

// HostString renders the address's host component for dialing or
// logging: the IP literal if present, otherwise the domain name.
func (a Address) HostString() string {
	if a.IP != nil {
		return a.IP.String()
	}
	return a.Name
}

// String renders "host:port", suitable for net.Dial.
func (a Address) String() string {
	return net.JoinHostPort(a.HostString(), strconv.Itoa(int(a.Port)))
}

// Resolver resolves domain names to IP addresses. net.DefaultResolver
// satisfies this via its LookupIP method; tests can substitute a fake.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// AddressFromIP builds a concrete Address from a resolved IP and port,
// choosing the wire address type by IP family.
func AddressFromIP(ip net.IP, port uint16) Address {
	if v4 := ip.To4(); v4 != nil {
		return Address{Type: AddrIPv4, IP: v4, Port: port}
	}
	return Address{Type: AddrIPv6, IP: ip.To16(), Port: port}
}

// ResolveIP returns the IP to dial for addr. IP literals pass through
// unchanged; a DomainName is resolved via resolver and the first
// returned address is used (see spec's open question on
// happy-eyeballs/retry — neither is implemented). Resolution failure is
// reported as ErrAddressResolutionFailed.
func ResolveIP(ctx context.Context, resolver Resolver, addr Address) (net.IP, error) {
	if addr.IP != nil {
		return addr.IP, nil
	}
	ips, err := resolver.LookupIP(ctx, "ip", addr.Name)
	if err != nil {
		return nil, protoErr(ErrAddressResolutionFailed, err)
	}
	if len(ips) == 0 {
		return nil, protoErr(ErrAddressResolutionFailed, errors.New("no addresses returned"))
	}
	return ips[0], nil
}

// DecodeAddress reads ATYP, the address body, and the 2-byte port from
// r. It does not resolve DomainName entries; call ResolveIP for that.
func DecodeAddress(r io.Reader) (Address, error) {
	var atyp [1]byte
	if _, err := io.ReadFull(r, atyp[:]); err != nil {
		return Address{}, protoErr(ErrTruncatedFrame, err)
	}

	var addr Address
	switch AddrType(atyp[0]) {
	case AddrIPv4:
		buf := make([]byte, net.IPv4len)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Address{}, protoErr(ErrTruncatedFrame, err)
		}
		addr = Address{Type: AddrIPv4, IP: net.IP(buf)}
	case AddrIPv6:
		buf := make([]byte, net.IPv6len)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Address{}, protoErr(ErrTruncatedFrame, err)
		}
		addr = Address{Type: AddrIPv6, IP: net.IP(buf)}
	case AddrDomainName:
		var l [1]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return Address{}, protoErr(ErrTruncatedFrame, err)
		}
		name := make([]byte, l[0])
		if _, err := io.ReadFull(r, name); err != nil {
			return Address{}, protoErr(ErrTruncatedFrame, err)
		}
		addr = Address{Type: AddrDomainName, Name: string(name)}
	default:
		return Address{}, protoErr(ErrUnknownAddressType, nil)
	}

	var portBuf [2]byte
	if _, err := io.ReadFull(r, portBuf[:]); err != nil {
		return Address{}, protoErr(ErrTruncatedFrame, err)
	}
	addr.Port = binary.BigEndian.Uint16(portBuf[:])
	return addr, nil
}

// AppendAddress appends addr's ATYP/address/port encoding to buf.
func AppendAddress(buf []byte, addr Address) ([]byte, error) {
	switch addr.Type {
	case AddrIPv4:
		v4 := addr.IP.To4()
		if v4 == nil {
			return nil, errors.New("socks5: AddrIPv4 address is not a valid IPv4 literal")
		}
		buf = append(buf, byte(AddrIPv4))
		buf = append(buf, v4...)
	case AddrIPv6:
		v6 := addr.IP.To16()
		if v6 == nil {
			return nil, errors.New("socks5: AddrIPv6 address is not a valid IPv6 literal")
		}
		buf = append(buf, byte(AddrIPv6))
		buf = append(buf, v6...)
	case AddrDomainName:
		if len(addr.Name) > MaxDomainNameBytes {
			return nil, errors.New("socks5: domain name exceeds 255 bytes")
		}
		buf = append(buf, byte(AddrDomainName))
		buf = append(buf, byte(len(addr.Name)))
		buf = append(buf, addr.Name...)
	default:
		return nil, errors.New("socks5: unknown address type")
	}
	buf = binary.BigEndian.AppendUint16(buf, addr.Port)
	return buf, nil
}
