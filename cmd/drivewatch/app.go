package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/agentworkforce/drivewatch/internal/config"
	"github.com/agentworkforce/drivewatch/internal/drivesync"
	"github.com/agentworkforce/drivewatch/internal/httpapi"
	"github.com/agentworkforce/drivewatch/internal/logging"
	"github.com/agentworkforce/drivewatch/internal/notify"
	"github.com/agentworkforce/drivewatch/internal/workspace"
)

// app is everything one drivewatch process runs against.
type app struct {
	workspace *workspace.Workspace
	table     *drivesync.SheetFolderTable
	runs      *drivesync.RunGuard
	logger    *slog.Logger
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger := logging.Component("drivewatch")

	backend, err := workspace.BuildStateBackendFromDSN(cfg.Workspace.DSN)
	if err != nil {
		return nil, fmt.Errorf("workspace backend: %w", err)
	}
	ws, err := workspace.Open(backend)
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}

	tokens, err := tokenSource(ctx, cfg.Drive)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	httpClient := oauth2.NewClient(ctx, tokens)
	httpClient.Timeout = cfg.Drive.Timeout

	var native drivesync.NativeClient
	if !cfg.Drive.DisableNative {
		opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
		if endpoint := strings.TrimSpace(cfg.Drive.NativeEndpoint); endpoint != "" {
			opts = append(opts, option.WithEndpoint(endpoint))
		}
		client, err := drivesync.NewDriveNativeClient(ctx, opts...)
		if err != nil {
			_ = ws.Close()
			return nil, err
		}
		native = client
	}
	rest := drivesync.NewHTTPClient(drivesync.HTTPClientOptions{
		BaseURL:       cfg.Drive.RESTBaseURL,
		TokenProvider: tokenProvider(tokens),
		HTTPClient:    &http.Client{Timeout: cfg.Drive.Timeout},
		MaxRetries:    cfg.Drive.MaxRetries,
	})

	table := drivesync.NewSheetFolderTable(ws, cfg.Workspace.FoldersSheet)
	driver := drivesync.NewDriver(drivesync.DriverOptions{
		Table:      table,
		Book:       ws,
		Properties: ws,
		Resolver:   drivesync.NewResolver(native, rest, logging.Component("resolver")),
		Enumerator: drivesync.NewEnumerator(drivesync.EnumeratorOptions{
			Native:   native,
			REST:     rest,
			MaxDepth: cfg.Drive.MaxDepth,
			Logger:   logging.Component("enumerator"),
		}),
		Notifier: newNotifier(cfg.Notify),
		Logger:   logging.Component("driver"),
	})

	a := &app{workspace: ws, table: table, runs: drivesync.NewRunGuard(driver), logger: logger}
	if err := a.seed(cfg.Folders); err != nil {
		_ = ws.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) seed(folders []config.FolderConfig) error {
	seeds := make([]drivesync.SeedFolder, 0, len(folders))
	for _, folder := range folders {
		seeds = append(seeds, drivesync.SeedFolder{
			Reference: folder.Reference,
			Enabled:   folder.IsEnabled(),
			Recipient: folder.Email,
		})
	}
	added, err := a.table.Seed(seeds)
	if err != nil {
		return fmt.Errorf("seed folder table: %w", err)
	}
	if added > 0 {
		a.logger.Info("folder table seeded", "added", added)
	}
	return nil
}

func (a *app) Close() error {
	return a.workspace.Close()
}

func newNotifier(cfg config.NotifyConfig) drivesync.Notifier {
	if strings.TrimSpace(cfg.SMTP.Host) == "" {
		return notify.LogNotifier{Logger: logging.Component("notify")}
	}
	return notify.NewEmailNotifier(notify.SMTPOptions{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		Logger:   logging.Component("notify"),
	})
}

// tokenSource prefers a static token, then a token file, then application
// default credentials with read-only Drive scope.
func tokenSource(ctx context.Context, cfg config.DriveConfig) (oauth2.TokenSource, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" && strings.TrimSpace(cfg.TokenFile) != "" {
		data, err := os.ReadFile(cfg.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("read token file: %w", err)
		}
		token = strings.TrimSpace(string(data))
		if token == "" {
			return nil, fmt.Errorf("token file %s is empty", cfg.TokenFile)
		}
	}
	if token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}), nil
	}
	ts, err := google.DefaultTokenSource(ctx, drive.DriveReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("default credentials: %w", err)
	}
	return ts, nil
}

func tokenProvider(ts oauth2.TokenSource) drivesync.TokenProvider {
	return func(context.Context) (string, error) {
		token, err := ts.Token()
		if err != nil {
			return "", err
		}
		return token.AccessToken, nil
	}
}

// runOnce runs the driver under timeout unless a run is already in flight.
func (a *app) runOnce(ctx context.Context, timeout time.Duration) (drivesync.RunSummary, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return a.runs.Run(ctx)
}

// apiServer exposes status and manual runs over HTTP.
func (a *app) apiServer(cfg config.ServerConfig, runTimeout time.Duration) *http.Server {
	handler := httpapi.NewServer(a.runs, a.table, a.workspace, httpapi.ServerConfig{
		JWTSecret:  cfg.JWTSecret,
		RunTimeout: runTimeout,
		Logger:     logging.Component("httpapi"),
	})
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// startAPI binds cfg.Addr and serves the status API in the background. The
// returned stop func shuts the server down.
func (a *app) startAPI(cfg config.ServerConfig, runTimeout time.Duration) (net.Addr, func(), error) {
	srv := a.apiServer(cfg, runTimeout)
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("status api failed", "error", err)
		}
	}()
	a.logger.Info("status api listening", "addr", ln.Addr().String())
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return ln.Addr(), stop, nil
}
