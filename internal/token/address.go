package token

import (
	"fmt"
	"net"

	"github.com/cbeuw/netcode/internal/common"
)

const (
	addressIPv4 = 1
	addressIPv6 = 2
)

func writeAddresses(w *common.WireWriter, addrs []*net.UDPAddr) error {
	w.Uint32(uint32(len(addrs)))
	for _, addr := range addrs {
		if addr == nil {
			return fmt.Errorf("%w: nil server address", ErrInvalidAddress)
		}
		if ip4 := addr.IP.To4(); ip4 != nil {
			w.Uint8(addressIPv4)
			w.Bytes(ip4)
		} else if ip6 := addr.IP.To16(); ip6 != nil {
			w.Uint8(addressIPv6)
			w.Bytes(ip6)
		} else {
			return fmt.Errorf("%w: %v", ErrInvalidAddress, addr)
		}
		w.Uint16(uint16(addr.Port))
	}
	return w.Err()
}

func readAddresses(r *common.WireReader) ([]*net.UDPAddr, error) {
	n := r.Uint32()
	if r.Err() != nil || n == 0 || n > MaxServersPerConnect {
		return nil, ErrMalformed
	}
	addrs := make([]*net.UDPAddr, 0, n)
	for i := uint32(0); i < n; i++ {
		var ip net.IP
		switch r.Uint8() {
		case addressIPv4:
			ip = make(net.IP, net.IPv4len)
		case addressIPv6:
			ip = make(net.IP, net.IPv6len)
		default:
			return nil, ErrMalformed
		}
		r.Bytes(ip)
		port := r.Uint16()
		if r.Err() != nil {
			return nil, ErrMalformed
		}
		addrs = append(addrs, &net.UDPAddr{IP: ip, Port: int(port)})
	}
	return addrs, nil
}

func checkAddresses(addrs []*net.UDPAddr) error {
	if len(addrs) == 0 {
		return ErrNoServerAddress
	}
	if len(addrs) > MaxServersPerConnect {
		return fmt.Errorf("%w: at most %v server addresses are allowed, got %v", ErrInvalidAddress, MaxServersPerConnect, len(addrs))
	}
	return nil
}

// AddrEqual compares two addresses by IP and port, treating IPv4 and IPv4-in-IPv6 forms as the same
func AddrEqual(a, b net.Addr) bool {
	if a == nil || b == nil {
		return a == b
	}
	ua, okA := a.(*net.UDPAddr)
	ub, okB := b.(*net.UDPAddr)
	if okA && okB {
		return ua.Port == ub.Port && ua.IP.Equal(ub.IP)
	}
	return a.Network() == b.Network() && a.String() == b.String()
}

// HasAddress reports whether addr is one of addrs
func HasAddress(addrs []*net.UDPAddr, addr net.Addr) bool {
	for _, a := range addrs {
		if AddrEqual(a, addr) {
			return true
		}
	}
	return false
}
