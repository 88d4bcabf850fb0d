package imap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailingest/internal/testutil"
)

const testFolder = "Ingest"

func fetchNow() time.Time {
	return time.Date(2025, 7, 3, 12, 0, 0, 0, time.UTC)
}

func seedFolder(t *testing.T, server *testutil.TestIMAPServer) []uint32 {
	t.Helper()
	server.EnsureFolder(t, testFolder)

	messages := []struct {
		msg   testutil.Message
		flags []string
	}{
		{
			msg: testutil.Message{
				MessageID: "<oldest@example.com>",
				From:      "Alice <alice@example.com>",
				To:        "me@example.com",
				Subject:   "Oldest",
				Date:      time.Date(2025, 6, 28, 9, 0, 0, 0, time.UTC),
				Body:      "First message\r\n",
			},
			flags: []string{imap.SeenFlag},
		},
		{
			msg: testutil.Message{
				MessageID: "<status@example.com>",
				From:      "Bot <bot@example.com>",
				To:        "me@example.com",
				Subject:   "Status",
				Date:      time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC),
				Headers:   []string{"Content-Transfer-Encoding: quoted-printable"},
				Body:      "Status: =E2=9C=85 Match\r\n\r\nPreis: 10=E2=82=AC\r\n",
			},
		},
		{
			msg: testutil.Message{
				MessageID:   "<newsletter@example.com>",
				From:        "News <news@example.com>",
				To:          "me@example.com",
				Subject:     "Newsletter",
				Date:        time.Date(2025, 6, 30, 9, 0, 0, 0, time.UTC),
				ContentType: "text/html; charset=utf-8",
				Body:        "<html><body><h1>Weekly</h1><p>GrÃ¼ÃŸe</p></body></html>\r\n",
			},
			flags: []string{imap.FlaggedFlag},
		},
	}

	uids := make([]uint32, 0, len(messages))
	for _, m := range messages {
		uids = append(uids, server.AppendMessage(t, testFolder, testutil.BuildMessage(m.msg), m.flags, m.msg.Date))
	}
	return uids
}

func TestFetchEmails(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	uids := seedFolder(t, server)
	server.EnsureFolder(t, "Empty")

	connect := func(t *testing.T) *client.Client {
		c, cleanup := server.Connect(t)
		t.Cleanup(cleanup)
		return c
	}
	opts := func(limit int) FetchOptions {
		return FetchOptions{Folder: testFolder, Limit: limit, Mailbox: "me@example.com", Now: fetchNow}
	}

	t.Run("fetches and normalizes the whole folder", func(t *testing.T) {
		result, err := FetchEmails(context.Background(), connect(t), opts(10))
		require.NoError(t, err)

		assert.Equal(t, testFolder, result.Folder)
		assert.Equal(t, 3, result.TotalCount)
		assert.Equal(t, 2, result.UnreadCount)
		assert.Equal(t, fetchNow(), result.LastSync)
		require.Len(t, result.Emails, 3)

		// Newest first by Date header.
		assert.Equal(t, "Status", result.Emails[0].Subject)
		assert.Equal(t, "Newsletter", result.Emails[1].Subject)
		assert.Equal(t, "Oldest", result.Emails[2].Subject)

		status := result.Emails[0]
		assert.Equal(t, uids[1], status.UID)
		assert.Equal(t, fmt.Sprint(uids[1]), status.ID)
		assert.Equal(t, "Status: ✅ Match\n\nPreis: 10€", status.TextContent)
		assert.Equal(t, "Bot <bot@example.com>", status.From)
		assert.Equal(t, "<status@example.com>", status.MessageID)
		assert.False(t, status.IsRead)
		assert.Equal(t, testFolder, status.Folder)
		assert.NotZero(t, status.Size)

		newsletter := result.Emails[1]
		assert.Contains(t, newsletter.HTMLContent, "<h1>Weekly</h1>")
		assert.Contains(t, newsletter.HTMLContent, "Grüße")
		assert.Equal(t, "Weekly Grüße", newsletter.TextContent)
		assert.Contains(t, newsletter.Flags, imap.FlaggedFlag)

		oldest := result.Emails[2]
		assert.True(t, oldest.IsRead)
		assert.Equal(t, "First message", oldest.TextContent)
	})

	t.Run("limit keeps the newest sequence numbers", func(t *testing.T) {
		result, err := FetchEmails(context.Background(), connect(t), opts(2))
		require.NoError(t, err)

		require.Len(t, result.Emails, 2)
		assert.Equal(t, 3, result.TotalCount)
		assert.Equal(t, uids[1], result.Emails[0].UID)
		assert.Equal(t, uids[2], result.Emails[1].UID)
	})

	t.Run("empty folder", func(t *testing.T) {
		o := opts(10)
		o.Folder = "Empty"
		result, err := FetchEmails(context.Background(), connect(t), o)
		require.NoError(t, err)
		assert.NotNil(t, result.Emails)
		assert.Empty(t, result.Emails)
		assert.Equal(t, 0, result.TotalCount)
	})

	t.Run("missing folder", func(t *testing.T) {
		o := opts(10)
		o.Folder = "Does-Not-Exist"
		_, err := FetchEmails(context.Background(), connect(t), o)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrFetchTimeout))
		assert.Contains(t, err.Error(), "failed to select folder")
	})

	t.Run("strict mode parses whole messages", func(t *testing.T) {
		o := opts(10)
		o.Strict = true
		result, err := FetchEmails(context.Background(), connect(t), o)
		require.NoError(t, err)
		require.Len(t, result.Emails, 3)

		status := result.Emails[0]
		assert.Equal(t, "Status", status.Subject)
		assert.Equal(t, "Status: ✅ Match\n\nPreis: 10€", status.TextContent)
		assert.Contains(t, result.Emails[1].HTMLContent, "Weekly")
	})

	t.Run("fetching does not mark messages as read", func(t *testing.T) {
		_, err := FetchEmails(context.Background(), connect(t), opts(10))
		require.NoError(t, err)

		result, err := FetchEmails(context.Background(), connect(t), opts(10))
		require.NoError(t, err)
		assert.Equal(t, 2, result.UnreadCount)
	})

	t.Run("nil client", func(t *testing.T) {
		_, err := FetchEmails(context.Background(), nil, opts(10))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "client is nil")
	})
}

// newStalledServer accepts IMAP logins and then never answers another command.
func newStalledServer(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = listener.Close()
	})

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveStalled(conn)
		}
	}()

	return listener.Addr().String()
}

func serveStalled(conn net.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	_, _ = fmt.Fprint(conn, "* OK [CAPABILITY IMAP4rev1] stalled server ready\r\n")
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		tag := fields[0]
		switch strings.ToUpper(fields[1]) {
		case "CAPABILITY":
			_, _ = fmt.Fprintf(conn, "* CAPABILITY IMAP4rev1\r\n%s OK CAPABILITY completed\r\n", tag)
		case "LOGIN":
			_, _ = fmt.Fprintf(conn, "%s OK LOGIN completed\r\n", tag)
		}
	}
}

func TestFetchEmailsTimeout(t *testing.T) {
	connectStalled := func(t *testing.T) *client.Client {
		c, err := Connect(ConnectionConfig{Server: newStalledServer(t), Username: "u", Password: "p"})
		require.NoError(t, err)
		return c
	}

	t.Run("returns ErrFetchTimeout and no partial result", func(t *testing.T) {
		c := connectStalled(t)

		start := time.Now()
		result, err := FetchEmails(context.Background(), c, FetchOptions{Folder: "INBOX", Timeout: 200 * time.Millisecond})
		elapsed := time.Since(start)

		assert.Nil(t, result)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrFetchTimeout))
		assert.Contains(t, err.Error(), "INBOX")
		assert.Less(t, elapsed, 5*time.Second)
	})

	t.Run("canceled context is not a timeout", func(t *testing.T) {
		c := connectStalled(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result, err := FetchEmails(ctx, c, FetchOptions{Folder: "INBOX", Timeout: time.Minute})

		assert.Nil(t, result)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.False(t, errors.Is(err, ErrFetchTimeout))
	})
}

func TestNewestRange(t *testing.T) {
	tests := []struct {
		name  string
		total uint32
		limit int
		want  string
	}{
		{"limit below total", 100, 10, "91:100"},
		{"limit equals total", 10, 10, "1:10"},
		{"limit above total", 3, 50, "1:3"},
		{"single message", 1, 50, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, newestRange(tt.total, tt.limit).String())
		})
	}
}

func TestFetchOptionsWithDefaults(t *testing.T) {
	opts := FetchOptions{}.withDefaults()
	assert.Equal(t, DefaultFolder, opts.Folder)
	assert.Equal(t, DefaultLimit, opts.Limit)
	assert.Equal(t, DefaultFetchTimeout, opts.Timeout)
	assert.NotNil(t, opts.Now)

	custom := FetchOptions{Folder: "Archive", Limit: 5, Timeout: time.Second}.withDefaults()
	assert.Equal(t, "Archive", custom.Folder)
	assert.Equal(t, 5, custom.Limit)
	assert.Equal(t, time.Second, custom.Timeout)
}
