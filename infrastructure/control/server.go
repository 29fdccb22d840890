package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"pqproxy/application"
	"pqproxy/infrastructure/session"
)

const (
	// requestTimeout bounds one request/response exchange.
	requestTimeout = 5 * time.Second

	// maxRequestLine caps a single JSON request line.
	maxRequestLine = 4096
)

// Commander is the surface the control channel drives: status queries,
// operator rekeys, shutdown.
type Commander interface {
	Status() session.Status
	Rekey(ctx context.Context, suiteID string) error
	Stop()
}

// request is one line-delimited JSON command.
type request struct {
	Cmd   string `json:"cmd"`
	Suite string `json:"suite,omitempty"`
}

type response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type statusResponse struct {
	OK bool `json:"ok"`
	session.Status
}

// Server answers line-delimited JSON requests on a loopback TCP listener,
// one request per connection. Malformed input is answered with an error
// response and never crashes the proxy.
type Server struct {
	commander Commander
	logger    application.Logger
}

func NewServer(commander Commander, logger application.Logger) *Server {
	return &Server{
		commander: commander,
		logger:    logger,
	}
}

// Serve accepts control connections until the context is cancelled. Closing
// the listener unblocks Accept during shutdown.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("control accept: %v", err)
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(requestTimeout))

	reader := bufio.NewReaderSize(conn, maxRequestLine)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return
	}

	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.reply(conn, response{OK: false, Error: fmt.Sprintf("malformed request: %v", err)})
		return
	}

	switch req.Cmd {
	case "ping":
		s.reply(conn, response{OK: true})
	case "status":
		s.reply(conn, statusResponse{OK: true, Status: s.commander.Status()})
	case "rekey":
		if req.Suite == "" {
			s.reply(conn, response{OK: false, Error: "rekey requires a suite"})
			return
		}
		// A rekey holds the connection for the whole negotiation; give
		// it room beyond the default request deadline.
		_ = conn.SetDeadline(time.Now().Add(time.Minute))
		if err := s.commander.Rekey(ctx, req.Suite); err != nil {
			s.reply(conn, response{OK: false, Error: err.Error()})
			return
		}
		s.reply(conn, response{OK: true})
	case "stop":
		s.reply(conn, response{OK: true})
		s.commander.Stop()
	default:
		s.reply(conn, response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)})
	}
}

func (s *Server) reply(conn net.Conn, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Printf("control response marshal failed: %v", err)
		return
	}
	payload = append(payload, '\n')
	if _, err := conn.Write(payload); err != nil {
		s.logger.Printf("control response write failed: %v", err)
	}
}
