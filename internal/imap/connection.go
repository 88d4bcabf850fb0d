package imap

import (
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog/log"
)

// dialTimeout bounds the TCP connect and greeting.
const dialTimeout = 5 * time.Second

// ConnectionConfig holds what is needed to open an authenticated session.
type ConnectionConfig struct {
	Server   string
	Username string
	Password string
	// UseTLS is true for production servers; tests use plain connections.
	UseTLS bool
}

// ConnectToIMAP connects to the IMAP server with a 5-second timeout.
func ConnectToIMAP(server string, useTLS bool) (*client.Client, error) {
	dialer := &net.Dialer{
		Timeout: dialTimeout,
	}

	if useTLS {
		c, err := client.DialWithDialerTLS(dialer, server, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial with TLS: %w", err)
		}
		return c, nil
	}

	c, err := client.DialWithDialer(dialer, server)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	return c, nil
}

// Login authenticates with the IMAP server.
func Login(c *client.Client, username, password string) error {
	if err := c.Login(username, password); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	return nil
}

// Connect dials and logs in. The caller owns the client and must call Logout.
func Connect(cfg ConnectionConfig) (*client.Client, error) {
	c, err := ConnectToIMAP(cfg.Server, cfg.UseTLS)
	if err != nil {
		return nil, err
	}

	if err := Login(c, cfg.Username, cfg.Password); err != nil {
		Logout(c)
		return nil, err
	}

	return c, nil
}

// Logout ends the session, closing the connection if the server does not answer.
func Logout(c *client.Client) {
	if c == nil {
		return
	}
	if err := c.Logout(); err != nil {
		log.Debug().Err(err).Msg("IMAP logout failed, terminating connection")
		_ = c.Terminate()
	}
}
