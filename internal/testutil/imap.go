package testutil

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer represents a test IMAP server instance.
type TestIMAPServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	cleanup  func()
	username string
	password string
}

// newIMAPServer starts a server with an in-memory backend on the given address.
// The memory backend creates a default user with username "username" and
// password "password" whose INBOX already holds one sample message.
func newIMAPServer(address string) (*TestIMAPServer, error) {
	be := memory.New()

	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	go func() {
		// Serve returns once the server is closed.
		_ = s.Serve(listener)
	}()

	return &TestIMAPServer{
		Server:  s,
		Address: listener.Addr().String(),
		Backend: be,
		cleanup: func() {
			_ = s.Close()
		},
		username: "username",
		password: "password",
	}, nil
}

// NewTestIMAPServer creates a new test IMAP server on a random port.
// The server is closed when the test finishes.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	s, err := newIMAPServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start test IMAP server: %v", err)
	}
	t.Cleanup(s.Close)

	return s
}

// NewTestIMAPServerForE2E creates a test IMAP server outside of a test, on a fixed address.
func NewTestIMAPServerForE2E(address string) (*TestIMAPServer, error) {
	return newIMAPServer(address)
}

// Close shuts down the test IMAP server.
func (s *TestIMAPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// Username returns the default test username.
func (s *TestIMAPServer) Username() string {
	return s.username
}

// Password returns the default test password.
func (s *TestIMAPServer) Password() string {
	return s.password
}

// Connect creates a new logged-in IMAP client connection to the test server.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	client, err := s.ConnectForE2E()
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}

	cleanup := func() {
		_ = client.Logout()
	}

	return client, cleanup
}

// ConnectForE2E creates a new logged-in IMAP client connection without a testing.T.
func (s *TestIMAPServer) ConnectForE2E() (*imapclient.Client, error) {
	client, err := imapclient.Dial(s.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	if err := client.Login(s.username, s.password); err != nil {
		_ = client.Logout()
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	return client, nil
}

// EnsureFolder creates the folder if it does not exist yet.
func (s *TestIMAPServer) EnsureFolder(t *testing.T, name string) {
	t.Helper()

	if err := s.EnsureFolderForE2E(name); err != nil {
		t.Fatalf("Failed to ensure folder %s: %v", name, err)
	}
}

// EnsureFolderForE2E creates the folder if it does not exist yet.
func (s *TestIMAPServer) EnsureFolderForE2E(name string) error {
	client, err := s.ConnectForE2E()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Logout()
	}()

	if _, err := client.Select(name, true); err == nil {
		return nil
	}
	if err := client.Create(name); err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create folder: %w", err)
	}
	return nil
}

// AppendMessage appends a raw RFC 822 message to the folder and returns its UID.
func (s *TestIMAPServer) AppendMessage(t *testing.T, folder, raw string, flags []string, date time.Time) uint32 {
	t.Helper()

	uid, err := s.AppendMessageForE2E(folder, raw, flags, date)
	if err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}
	return uid
}

// AppendMessageForE2E appends a raw RFC 822 message to the folder and returns its UID.
func (s *TestIMAPServer) AppendMessageForE2E(folder, raw string, flags []string, date time.Time) (uint32, error) {
	client, err := s.ConnectForE2E()
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = client.Logout()
	}()

	if err := client.Append(folder, flags, date, strings.NewReader(raw)); err != nil {
		return 0, fmt.Errorf("failed to append message: %w", err)
	}

	// The appended message is the last one in the folder.
	mbox, err := client.Select(folder, true)
	if err != nil {
		return 0, fmt.Errorf("failed to select folder: %w", err)
	}
	if mbox.Messages == 0 {
		return 0, fmt.Errorf("message not found after append")
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(mbox.Messages)
	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- client.Fetch(seqSet, []imap.FetchItem{imap.FetchUid}, messages)
	}()

	var uid uint32
	for msg := range messages {
		uid = msg.Uid
	}
	if err := <-done; err != nil {
		return 0, fmt.Errorf("failed to fetch UID: %w", err)
	}

	return uid, nil
}

// Message describes a test message for BuildMessage.
type Message struct {
	MessageID   string
	From        string
	To          string
	Subject     string
	Date        time.Time
	ContentType string
	// Headers are extra header lines, without line endings.
	Headers []string
	Body    string
}

// BuildMessage renders a message with CRLF line endings. Empty fields are left out,
// so tests can produce messages with missing headers.
func BuildMessage(m Message) string {
	var b strings.Builder
	writeHeader := func(name, value string) {
		if value != "" {
			b.WriteString(name + ": " + value + "\r\n")
		}
	}

	writeHeader("Message-ID", m.MessageID)
	if !m.Date.IsZero() {
		writeHeader("Date", m.Date.Format(time.RFC1123Z))
	}
	writeHeader("From", m.From)
	writeHeader("To", m.To)
	writeHeader("Subject", m.Subject)
	writeHeader("MIME-Version", "1.0")
	contentType := m.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	writeHeader("Content-Type", contentType)
	for _, line := range m.Headers {
		b.WriteString(line + "\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(m.Body)

	return b.String()
}
