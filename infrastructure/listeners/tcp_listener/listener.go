package tcp_listener

import (
	"fmt"
	"net"
)

type Listener interface {
	ListenTCP() (net.Listener, error)
}

type TcpListener struct {
	addr string
}

func NewTcpListener(addr string) Listener {
	return &TcpListener{
		addr: addr,
	}
}

func (t *TcpListener) ListenTCP() (net.Listener, error) {
	listener, err := net.Listen("tcp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %s", t.addr, err)
	}

	return listener, nil
}
