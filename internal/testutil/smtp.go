package testutil

import (
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
)

// RelayBackend is an SMTP backend that delivers every accepted message into a
// folder of a TestIMAPServer, so tests and the dev server can "receive" mail.
type RelayBackend struct {
	imap   *TestIMAPServer
	folder string

	mu        sync.Mutex
	delivered []DeliveredMessage
}

// DeliveredMessage records one relayed message.
type DeliveredMessage struct {
	From string
	To   []string
	UID  uint32
}

// NewRelayBackend creates a backend that appends to folder on imapServer.
func NewRelayBackend(imapServer *TestIMAPServer, folder string) *RelayBackend {
	if folder == "" {
		folder = "INBOX"
	}
	return &RelayBackend{imap: imapServer, folder: folder}
}

// NewSession creates a new SMTP session.
func (b *RelayBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &relaySession{backend: b}, nil
}

// Delivered returns the messages relayed so far.
func (b *RelayBackend) Delivered() []DeliveredMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]DeliveredMessage(nil), b.delivered...)
}

func (b *RelayBackend) deliver(from string, to []string, data []byte) error {
	uid, err := b.imap.AppendMessageForE2E(b.folder, string(data), nil, time.Now())
	if err != nil {
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      fmt.Sprintf("failed to deliver to %s: %v", b.folder, err),
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.delivered = append(b.delivered, DeliveredMessage{From: from, To: to, UID: uid})
	return nil
}

type relaySession struct {
	backend *RelayBackend
	from    string
	to      []string
}

func (s *relaySession) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *relaySession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *relaySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(s.to) == 0 {
		return &smtp.SMTPError{Code: 554, EnhancedCode: smtp.EnhancedCode{5, 5, 1}, Message: "no valid recipients"}
	}
	return s.backend.deliver(s.from, s.to, data)
}

func (s *relaySession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *relaySession) Logout() error {
	return nil
}

// TestSMTPServer is an SMTP server relaying into a TestIMAPServer.
type TestSMTPServer struct {
	Server  *smtp.Server
	Address string
	Backend *RelayBackend
	cleanup func()
}

func newSMTPServer(address string, imapServer *TestIMAPServer, folder string) (*TestSMTPServer, error) {
	be := NewRelayBackend(imapServer, folder)

	s := smtp.NewServer(be)
	s.Domain = "localhost"
	s.ReadTimeout = 10 * time.Second
	s.WriteTimeout = 10 * time.Second
	s.MaxMessageBytes = 10 << 20
	s.MaxRecipients = 50

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	go func() {
		// Serve returns once the server is closed.
		_ = s.Serve(listener)
	}()

	return &TestSMTPServer{
		Server:  s,
		Address: listener.Addr().String(),
		Backend: be,
		cleanup: func() {
			_ = s.Close()
		},
	}, nil
}

// NewTestSMTPServer starts an SMTP relay on a random port that delivers into
// folder of imapServer. The server is closed when the test finishes.
func NewTestSMTPServer(t *testing.T, imapServer *TestIMAPServer, folder string) *TestSMTPServer {
	t.Helper()

	s, err := newSMTPServer("127.0.0.1:0", imapServer, folder)
	if err != nil {
		t.Fatalf("Failed to start test SMTP server: %v", err)
	}
	t.Cleanup(s.Close)

	return s
}

// NewTestSMTPServerForE2E starts an SMTP relay outside of a test, on a fixed address.
func NewTestSMTPServerForE2E(address string, imapServer *TestIMAPServer, folder string) (*TestSMTPServer, error) {
	return newSMTPServer(address, imapServer, folder)
}

// Close shuts down the test SMTP server.
func (s *TestSMTPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// Send submits a raw message to the relay.
func (s *TestSMTPServer) Send(from string, to []string, raw string) error {
	if err := smtp.SendMail(s.Address, nil, from, to, strings.NewReader(raw)); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}
