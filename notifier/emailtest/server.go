// Package emailtest provides a minimal in-process SMTP server that records
// the messages it receives.
package emailtest

import (
	"fmt"
	"io"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
)

type Message struct {
	From   string
	To     []string
	Header mail.Header
	// decoded if sent quoted-printable
	Body string
}

type Server struct {
	Host string
	Port int

	l            net.Listener
	wg           sync.WaitGroup
	mu           sync.Mutex
	sentMessages []*Message
	errors       []error
}

// NewServer listens on a random localhost port.
func NewServer() (*Server, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	host, portStr, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		l.Close()
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		l.Close()
		return nil, err
	}
	s := &Server{
		Host: host,
		Port: port,
		l:    l,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()
	return s, nil
}

func (s *Server) SentMessages() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Message(nil), s.sentMessages...)
}

func (s *Server) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errors...)
}

func (s *Server) Close() error {
	err := s.l.Close()
	s.wg.Wait()
	return err
}

func (s *Server) run() {
	for {
		conn, err := s.l.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			if err := s.handleConn(conn); err != nil {
				s.mu.Lock()
				s.errors = append(s.errors, err)
				s.mu.Unlock()
			}
		}()
	}
}

const (
	replyGreeting = "220 emailtest ready"
	replyOK       = "250 Ok"
	replyData     = "354 Go ahead"
	replyGoodbye  = "221 Goodbye"
	replyUnknown  = "502 Command not implemented"
)

// handleConn implements just enough SMTP for net/smtp clients: no
// extensions, no authentication, no TLS.
func (s *Server) handleConn(conn net.Conn) error {
	tc := textproto.NewConn(conn)
	if err := tc.PrintfLine(replyGreeting); err != nil {
		return err
	}

	msg := &Message{}
	for {
		line, err := tc.ReadLine()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		verb := strings.ToUpper(line)
		if len(verb) > 4 {
			verb = verb[:4]
		}

		switch verb {
		case "EHLO", "HELO", "NOOP", "RSET":
			err = tc.PrintfLine(replyOK)
		case "MAIL":
			msg.From = address(line)
			err = tc.PrintfLine(replyOK)
		case "RCPT":
			msg.To = append(msg.To, address(line))
			err = tc.PrintfLine(replyOK)
		case "DATA":
			if err = tc.PrintfLine(replyData); err != nil {
				return err
			}
			if err = readData(tc, msg); err != nil {
				return err
			}
			s.mu.Lock()
			s.sentMessages = append(s.sentMessages, msg)
			s.mu.Unlock()
			msg = &Message{}
			err = tc.PrintfLine(replyOK)
		case "QUIT":
			return tc.PrintfLine(replyGoodbye)
		default:
			err = tc.PrintfLine(replyUnknown)
		}
		if err != nil {
			return err
		}
	}
}

func readData(tc *textproto.Conn, msg *Message) error {
	message, err := mail.ReadMessage(tc.DotReader())
	if err != nil {
		return fmt.Errorf("reading message: %w", err)
	}
	var body io.Reader = message.Body
	if strings.EqualFold(message.Header.Get("Content-Transfer-Encoding"), "quoted-printable") {
		body = quotedprintable.NewReader(body)
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	msg.Header = message.Header
	msg.Body = string(b)
	return nil
}

// "MAIL FROM:<a@b>" -> "a@b"
func address(line string) string {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return ""
	}
	addr := strings.TrimSpace(line[i+1:])
	if j := strings.IndexByte(addr, ' '); j >= 0 {
		addr = addr[:j]
	}
	return strings.Trim(addr, "<>")
}
