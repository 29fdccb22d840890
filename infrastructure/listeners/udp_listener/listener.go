package udp_listener

import (
	"fmt"
	"net"
)

type Listener interface {
	ListenUDP() (*net.UDPConn, error)
}

type UdpListener struct {
	addr string
}

func NewUdpListener(addr string) Listener {
	return &UdpListener{
		addr: addr,
	}
}

func (u *UdpListener) ListenUDP() (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", u.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve udp addr: %s", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %s", u.addr, err)
	}

	return conn, nil
}
