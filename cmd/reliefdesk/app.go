package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/reliefdesk/attach"
	"github.com/c360studio/reliefdesk/config"
	"github.com/c360studio/reliefdesk/dashboard"
	"github.com/c360studio/reliefdesk/notify"
	"github.com/c360studio/reliefdesk/report"
	"github.com/c360studio/reliefdesk/repository"
	"github.com/c360studio/reliefdesk/storage"
)

// App wires configuration into a dashboard session.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	tokens   *repository.FileTokenSource
	client   *repository.Client
	natsConn *nats.Conn
	session  *dashboard.Session
}

// NewApp connects the configured collaborators. NATS is optional: when it
// is configured but unreachable the app runs without snapshot persistence
// and notification publishing.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	clientOpts := []repository.ClientOption{
		repository.WithTimeout(cfg.API.Timeout),
		repository.WithLogger(logger),
	}
	switch {
	case cfg.API.TokenFile != "":
		tokens, err := repository.NewFileTokenSource(ctx, cfg.API.TokenFile, logger)
		if err != nil {
			return nil, fmt.Errorf("open token file: %w", err)
		}
		a.tokens = tokens
		clientOpts = append(clientOpts, repository.WithTokenSource(tokens))
	case cfg.API.Token != "":
		clientOpts = append(clientOpts, repository.WithTokenSource(repository.StaticToken(cfg.API.Token)))
	}
	a.client = repository.NewClient(cfg.API.BaseURL, clientOpts...)

	notifiers := notify.Multi{notify.LogNotifier{Logger: logger}}
	sessionOpts := []dashboard.Option{dashboard.WithLogger(logger)}

	if cfg.NATS.URL != "" {
		if err := a.startNATS(ctx); err != nil {
			logger.Warn("NATS unavailable, continuing without it", "url", cfg.NATS.URL, "error", err)
		} else {
			js, err := jetstream.New(a.natsConn)
			if err != nil {
				a.Shutdown()
				return nil, fmt.Errorf("create JetStream context: %w", err)
			}
			store, err := storage.NewSnapshotStore(ctx, js, cfg.NATS.Bucket, logger)
			if err != nil {
				logger.Warn("Snapshot store unavailable", "bucket", cfg.NATS.Bucket, "error", err)
			} else {
				sessionOpts = append(sessionOpts, dashboard.WithStore(store))
			}
			notifiers = append(notifiers, notify.NewNATSNotifier(a.natsConn, cfg.NATS.NotifySubject, logger))
		}
	}

	a.session = dashboard.New(a.client, append(sessionOpts, dashboard.WithNotifier(notifiers))...)
	return a, nil
}

func (a *App) startNATS(ctx context.Context) error {
	a.logger.Debug("Connecting to NATS", "url", a.cfg.NATS.URL)
	conn, err := nats.Connect(a.cfg.NATS.URL,
		nats.Name(appName),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	a.natsConn = conn
	return nil
}

// Session returns the dashboard session.
func (a *App) Session() *dashboard.Session {
	return a.session
}

// Open loads the report collection.
func (a *App) Open(ctx context.Context) error {
	return a.session.Open(ctx)
}

// Attachments resolves image references. The S3 client is only built when
// an s3:// reference is present.
func (a *App) Attachments(ctx context.Context, refs []string) ([]report.Attachment, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	opts := []attach.Option{attach.WithLogger(a.logger)}
	for _, ref := range refs {
		if strings.HasPrefix(ref, "s3://") {
			client, err := attach.NewS3Client(ctx, attach.S3Config{
				Region:    a.cfg.S3.Region,
				Endpoint:  a.cfg.S3.Endpoint,
				PathStyle: a.cfg.S3.PathStyle,
			})
			if err != nil {
				return nil, err
			}
			opts = append(opts, attach.WithObjectStore(client))
			break
		}
	}
	return attach.NewLoader(opts...).Load(ctx, refs)
}

// Shutdown releases the session and connections.
func (a *App) Shutdown() {
	if a.session != nil {
		a.session.Close()
	}
	if a.natsConn != nil {
		// Flush pending notifications
		if err := a.natsConn.FlushTimeout(2 * time.Second); err != nil {
			a.logger.Warn("Failed to flush NATS connection", "error", err)
		}
		a.natsConn.Close()
	}
	if a.tokens != nil {
		_ = a.tokens.Close()
	}
}
