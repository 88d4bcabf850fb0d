package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vdavid/mailingest/internal/api"
	"github.com/vdavid/mailingest/internal/db"
	"github.com/vdavid/mailingest/internal/imap"
	"github.com/vdavid/mailingest/internal/logging"
	"github.com/vdavid/mailingest/internal/testutil"
	ws "github.com/vdavid/mailingest/internal/websocket"
	"github.com/vdavid/mailingest/migrations"
)

// testFolder is where seeded and relayed messages land.
const testFolder = "INBOX"

func main() {
	logging.Setup("development", getEnvOrDefault("MAILINGEST_LOG_LEVEL", "debug"))
	ctx := context.Background()

	imapServer, smtpServer, err := startMailServers(
		getEnvOrDefault("TEST_IMAP_ADDRESS", "127.0.0.1:1143"),
		getEnvOrDefault("TEST_SMTP_ADDRESS", "127.0.0.1:1025"),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start mail servers")
	}
	defer imapServer.Close()
	defer smtpServer.Close()

	if err := seedTestData(imapServer, smtpServer); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed test data")
	}

	var pool *pgxpool.Pool
	if os.Getenv("TEST_WITH_STORE") != "" {
		container, connStr, err := startPostgres(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start Postgres")
		}
		defer func() {
			if err := container.Terminate(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to terminate Postgres container")
			}
		}()

		pool, err = setupDatabase(ctx, connStr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to setup database")
		}
		defer pool.Close()
	}

	if err := startHTTPServer(getEnvOrDefault("PORT", "8080"), pool, imapServer, smtpServer); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
}

// startPostgres starts a throwaway Postgres database using testcontainers.
func startPostgres(ctx context.Context) (testcontainers.Container, string, error) {
	log.Info().Msg("Starting test Postgres database...")
	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("mailingest_test"),
		postgres.WithUsername("mailingest"),
		postgres.WithPassword("mailingest"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start Postgres container: %w", err)
	}

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get connection string: %w", err)
	}

	log.Info().Msg("Test Postgres database started")
	return postgresContainer, connStr, nil
}

// startMailServers starts the in-memory IMAP server and the SMTP relay in front of it.
func startMailServers(imapAddress, smtpAddress string) (*testutil.TestIMAPServer, *testutil.TestSMTPServer, error) {
	imapServer, err := testutil.NewTestIMAPServerForE2E(imapAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start test IMAP server: %w", err)
	}
	log.Info().Str("address", imapServer.Address).Msg("Test IMAP server started")

	smtpServer, err := testutil.NewTestSMTPServerForE2E(smtpAddress, imapServer, testFolder)
	if err != nil {
		imapServer.Close()
		return nil, nil, fmt.Errorf("failed to start test SMTP server: %w", err)
	}
	log.Info().Str("address", smtpServer.Address).Str("folder", testFolder).Msg("Test SMTP relay started")

	return imapServer, smtpServer, nil
}

// setupDatabase creates a connection pool and runs migrations.
func setupDatabase(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	applied, err := migrations.Apply(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Strs("applied", applied).Msg("Connected to database and ran migrations")
	return pool, nil
}

// seedTestData fills the test account with messages that exercise the repair
// pipeline, both appended directly and relayed through SMTP.
func seedTestData(imapServer *testutil.TestIMAPServer, smtpServer *testutil.TestSMTPServer) error {
	for _, folder := range []string{testFolder, "Receipts", "Archive"} {
		if err := imapServer.EnsureFolderForE2E(folder); err != nil {
			return fmt.Errorf("failed to ensure folder %s: %w", folder, err)
		}
	}

	now := time.Now()
	appended := []struct {
		folder string
		msg    testutil.Message
		flags  []string
	}{
		{
			folder: testFolder,
			msg: testutil.Message{
				MessageID: "<status@test>",
				From:      "alerts@example.com",
				To:        "test@example.com",
				Subject:   "Status report",
				Date:      now.Add(-2 * time.Hour),
				Headers:   []string{"Content-Transfer-Encoding: quoted-printable"},
				Body:      "Status: =E2=9C=85 Match\r\n\r\nPreis: 10=E2=82=AC\r\n",
			},
		},
		{
			folder: testFolder,
			msg: testutil.Message{
				MessageID:   "<newsletter@test>",
				From:        "news@example.com",
				To:          "test@example.com",
				Subject:     "Newsletter",
				Date:        now.Add(-1 * time.Hour),
				ContentType: "text/html; charset=utf-8",
				Body:        "<html><body><p>Viele GrÃ¼ÃŸe &amp; bis bald</p></body></html>\r\n",
			},
			flags: []string{`\Seen`},
		},
		{
			folder: "Receipts",
			msg: testutil.Message{
				MessageID: "<receipt@test>",
				From:      "shop@example.com",
				To:        "test@example.com",
				Subject:   "Your receipt",
				Date:      now.Add(-3 * time.Hour),
				Body:      "Total: 42,00 â‚¬\r\n",
			},
		},
	}

	for _, a := range appended {
		if _, err := imapServer.AppendMessageForE2E(a.folder, testutil.BuildMessage(a.msg), a.flags, a.msg.Date); err != nil {
			return fmt.Errorf("failed to add message %s: %w", a.msg.MessageID, err)
		}
	}

	relayed := testutil.BuildMessage(testutil.Message{
		MessageID: "<relayed@test>",
		From:      "colleague@example.com",
		To:        "test@example.com",
		Subject:   "Meeting tomorrow",
		Date:      now,
		Body:      "Donâ€™t forget the meeting at 2 PMâ€¦\r\n",
	})
	if err := smtpServer.Send("colleague@example.com", []string{"test@example.com"}, relayed); err != nil {
		return fmt.Errorf("failed to relay message: %w", err)
	}

	return nil
}

// startHTTPServer serves the API against the test IMAP server until SIGINT or SIGTERM.
func startHTTPServer(port string, pool *pgxpool.Pool, imapServer *testutil.TestIMAPServer, smtpServer *testutil.TestSMTPServer) error {
	service := imap.NewService(imap.ConnectionConfig{
		Server:   imapServer.Address,
		Username: imapServer.Username(),
		Password: imapServer.Password(),
		UseTLS:   false,
	}, imap.FetchOptions{Folder: testFolder, Mailbox: "test@example.com"})

	var store api.EmailStore
	if pool != nil {
		dbStore := db.NewStore(pool)
		service.WithSink(dbStore)
		store = dbStore
	}

	router := api.NewRouter(service, store, ws.NewHub(10), api.RouterConfig{
		Folder: testFolder,
		Banner: "mailingest test server is running",
	})
	defer router.Close()

	address := ":" + port
	log.Info().
		Str("address", address).
		Str("imap", imapServer.Address).
		Str("imap_user", imapServer.Username()).
		Str("imap_password", imapServer.Password()).
		Str("smtp", smtpServer.Address).
		Bool("store", pool != nil).
		Msg("Test server ready. Press Ctrl+C to stop.")

	serverErr := make(chan error, 1)
	go func() {
		server := &http.Server{Addr: address, Handler: router, ReadHeaderTimeout: 10 * time.Second}
		if err := server.ListenAndServe(); err != nil {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutting down...")
		return nil
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
