package smtp

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type session struct {
	from       string
	recipients []string
	data       string
}

// fakeServer is a minimal SMTP relay that records what it receives.
type fakeServer struct {
	ln net.Listener

	mu          sync.Mutex
	sessions    []session
	connections int

	// dropConnections closes the first n connections before the greeting.
	dropConnections int
	// failMail answers the first n MAIL commands with a temporary error.
	failMail int
	// rejectRcpt maps recipients to the reply sent for their RCPT command.
	rejectRcpt map[string]string
	// failQuit answers QUIT with a temporary error.
	failQuit bool
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeServer{ln: ln, rejectRcpt: map[string]string{}}
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *fakeServer) start() {
	go func() {
		for {
			conn, err := s.ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
}

func (s *fakeServer) config() Config {
	addr := s.ln.Addr().(*net.TCPAddr)
	return Config{
		Host:            "127.0.0.1",
		Port:            addr.Port,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func (s *fakeServer) Sessions() []session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session(nil), s.sessions...)
}

func (s *fakeServer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

func (s *fakeServer) serve(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	s.mu.Lock()
	s.connections++
	drop := s.connections <= s.dropConnections
	s.mu.Unlock()
	if drop {
		return
	}

	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)
	reply := func(line string) {
		fmt.Fprint(bw, line+"\r\n")
		_ = bw.Flush()
	}

	reply("220 fake ESMTP")
	var current session
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])

		switch verb {
		case "EHLO", "HELO":
			reply("250 fake")
		case "MAIL":
			s.mu.Lock()
			fail := s.failMail > 0
			if fail {
				s.failMail--
			}
			s.mu.Unlock()
			if fail {
				reply("451 4.3.0 try again later")
				continue
			}
			current = session{from: trimPath(line, "MAIL FROM:")}
			reply("250 OK")
		case "RCPT":
			rcpt := trimPath(line, "RCPT TO:")
			if r, ok := s.rejectRcpt[rcpt]; ok {
				reply(r)
				continue
			}
			current.recipients = append(current.recipients, rcpt)
			reply("250 OK")
		case "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			var b strings.Builder
			for {
				dl, err := br.ReadString('\n')
				if err != nil {
					return
				}
				if dl == ".\r\n" {
					break
				}
				b.WriteString(strings.TrimPrefix(dl, "."))
			}
			current.data = b.String()
			s.mu.Lock()
			s.sessions = append(s.sessions, current)
			s.mu.Unlock()
			reply("250 OK queued")
		case "RSET", "NOOP":
			reply("250 OK")
		case "QUIT":
			s.mu.Lock()
			failQuit := s.failQuit
			s.mu.Unlock()
			if failQuit {
				reply("421 4.3.2 shutting down")
				return
			}
			reply("221 Bye")
			return
		default:
			reply("502 command not implemented")
		}
	}
}

func trimPath(line, prefix string) string {
	rest := line
	if len(line) >= len(prefix) && strings.EqualFold(line[:len(prefix)], prefix) {
		rest = line[len(prefix):]
	}
	return strings.Trim(strings.TrimSpace(rest), "<>")
}
