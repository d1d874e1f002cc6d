// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.astrophena.name/tgdrive/internal/cli"
	"go.astrophena.name/tgdrive/internal/credstore"
	"go.astrophena.name/tgdrive/internal/fetch"
	"go.astrophena.name/tgdrive/internal/httplogger"
	"go.astrophena.name/tgdrive/internal/logger"
	"go.astrophena.name/tgdrive/internal/store"
	"go.astrophena.name/tgdrive/internal/syncx"
	"go.astrophena.name/tgdrive/internal/systemd"
	"go.astrophena.name/tgdrive/internal/telegram"
	"go.astrophena.name/tgdrive/internal/transfer"
	"go.astrophena.name/tgdrive/internal/upload"
	"go.astrophena.name/tgdrive/internal/web"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	defaultCredentialsFile = "credentials.json"
	defaultMaxTransfers    = 4

	// Bot API allows about 30 messages per second.
	telegramRate  = 25
	telegramBurst = 5

	fetchTimeout   = 30 * time.Minute
	uploadTimeout  = 2 * time.Hour
	pollRetryDelay = 5 * time.Second
	logLines       = 300
)

func main() { cli.Main(new(bot)) }

func (b *bot) Flags(fs *flag.FlagSet) {
	fs.BoolVar(&b.debug, "debug", false, "Enable debug logging.")
	fs.StringVar(&b.adminAddr, "admin-addr", "", "Serve admin endpoints on `addr` (overrides ADMIN_ADDR).")
}

func (b *bot) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	// Load configuration from environment variables.
	b.adminAddr = cmp.Or(b.adminAddr, env.Getenv("ADMIN_ADDR"))
	b.apiServer = cmp.Or(b.apiServer, env.Getenv("BOT_API_SERVER"), telegram.DefaultBaseURL)
	b.credentialsFile = cmp.Or(b.credentialsFile, env.Getenv("GOOGLE_CREDENTIALS_FILE"), defaultCredentialsFile)
	b.folderID = cmp.Or(b.folderID, env.Getenv("DRIVE_FOLDER_ID"))
	b.maxTransfers = cmp.Or(b.maxTransfers, parseInt(env.Getenv("MAX_TRANSFERS")), defaultMaxTransfers)
	b.redirectURL = cmp.Or(b.redirectURL, env.Getenv("OAUTH_REDIRECT_URL"))
	b.tempDir = cmp.Or(b.tempDir, env.Getenv("TEMP_DIR"))
	b.tgToken = cmp.Or(b.tgToken, env.Getenv("TELEGRAM_BOT_TOKEN"))
	b.tokenStore = cmp.Or(b.tokenStore, env.Getenv("TOKEN_STORE"))

	command := "run"
	switch len(env.Args) {
	case 0:
	case 1:
		command = env.Args[0]
	default:
		return fmt.Errorf("%w: at most one command is expected", cli.ErrInvalidArgs)
	}

	switch command {
	case "credentials":
		return b.credentials(ctx)
	case "run":
	default:
		return fmt.Errorf("%w: no such command %q", cli.ErrInvalidArgs, command)
	}

	if b.tgToken == "" {
		return fmt.Errorf("%w: TELEGRAM_BOT_TOKEN is not set", cli.ErrInvalidArgs)
	}
	if b.maxTransfers < 1 {
		return fmt.Errorf("%w: MAX_TRANSFERS must be positive", cli.ErrInvalidArgs)
	}

	b.init.Do(func() { b.initErr = b.doInit(ctx) })
	if b.initErr != nil {
		return b.initErr
	}
	defer b.store.Close()

	return b.run(ctx)
}

func parseInt(s string) int64 {
	i, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return i
	}
	return 0
}

type bot struct {
	init    sync.Once
	initErr error

	// configuration
	adminAddr       string
	apiServer       string
	credentialsFile string
	debug           bool
	folderID        string
	maxTransfers    int64
	redirectURL     string
	tempDir         string
	tgToken         string
	tokenStore      string

	// used in tests
	httpc      *http.Client
	provider   upload.Provider
	maxRetries int

	// initialized by doInit
	creds     *credstore.Store
	fetcher   *fetch.Fetcher
	health    *web.HealthHandler
	level     *slog.LevelVar
	logger    *slog.Logger
	logs      logger.Streamer
	registry  *prometheus.Registry
	scrubber  *strings.Replacer
	slots     *semaphore.Weighted
	store     store.Store
	tg        *telegram.Client
	transfers *transfer.Orchestrator

	me       *telegram.User
	inFlight syncx.Map[int64, struct{}]
	running  atomic.Int64
	active   sync.WaitGroup
	lastPoll atomic.Pointer[pollResult]
}

type pollResult struct {
	at  time.Time
	err error
}

func (b *bot) doInit(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	b.level = new(slog.LevelVar)
	if b.debug {
		b.level.Set(slog.LevelDebug)
	}
	b.logs = logger.NewStreamer(logLines)
	b.logger = logger.New(io.MultiWriter(env.Stderr, b.logs), b.level)
	b.scrubber = strings.NewReplacer(b.tgToken, "[EXPUNGED]")

	// Long polling needs a timeout longer than the poll itself. Downloads and
	// uploads are bounded by stage timeouts instead.
	apiClient, fileClient, authClient := b.httpc, b.httpc, b.httpc
	if b.httpc == nil {
		transport := httplogger.New(nil, b.logger, b.scrubber)
		apiClient = &http.Client{Transport: transport, Timeout: telegram.PollTimeout + 30*time.Second}
		fileClient = &http.Client{Transport: transport}
		authClient = &http.Client{Transport: transport, Timeout: 30 * time.Second}
	}

	config, err := credstore.LoadConfig(b.credentialsFile, b.redirectURL)
	if err != nil {
		// The bot still works for users that are already linked.
		b.logger.Warn("OAuth client is not configured, /auth is disabled", "error", err)
		config = nil
	}

	b.store, err = store.Open(ctx, b.tokenStore)
	if err != nil {
		return fmt.Errorf("opening token store: %w", err)
	}
	b.creds = credstore.New(config, b.store)
	b.creds.HTTPClient = authClient
	b.creds.Logger = b.logger

	b.tg = &telegram.Client{
		Token:      b.tgToken,
		BaseURL:    b.apiServer,
		HTTPClient: apiClient,
		Scrubber:   b.scrubber,
		Limiter:    rate.NewLimiter(telegramRate, telegramBurst),
		Logger:     b.logger,
	}

	b.fetcher = &fetch.Fetcher{
		Gateway:    b.apiServer,
		Token:      b.tgToken,
		Tier:       fetch.NewTier(b.apiServer),
		HTTPClient: fileClient,
		TempDir:    b.tempDir,
		Scrubber:   b.scrubber,
	}

	if b.provider == nil {
		b.provider = new(upload.Drive)
	}

	b.registry = prometheus.NewRegistry()
	b.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	b.transfers = &transfer.Orchestrator{
		Credentials: b.creds,
		Files:       b.tg,
		Fetcher:     b.fetcher,
		Uploader: &upload.Uploader{
			Credentials: b.creds,
			Provider:    b.provider,
			Folder:      b.folderID,
			Logger:      b.logger,
		},
		FetchTimeout:  fetchTimeout,
		UploadTimeout: uploadTimeout,
		MaxRetries:    b.maxRetries,
		Logger:        b.logger,
		Metrics:       transfer.NewMetrics(b.registry),
	}

	b.slots = semaphore.NewWeighted(b.maxTransfers)

	b.health = web.NewHealthHandler()
	b.health.RegisterFunc("telegram", b.pollHealth)
	b.health.RegisterFunc("transfers", func() (string, bool) {
		return fmt.Sprintf("%d/%d slots in use", b.running.Load(), b.maxTransfers), true
	})

	return nil
}

func (b *bot) run(ctx context.Context) error {
	me, err := b.tg.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("checking bot token: %w", err)
	}
	b.me = me
	b.logger.Info("starting",
		"bot", me.Username,
		"api_server", b.apiServer,
		"public", fetch.IsPublicGateway(b.apiServer),
		"max_file_size", b.fetcher.Limit(),
		"max_transfers", b.maxTransfers,
	)

	if err := b.tg.SetMyCommands(ctx, commands); err != nil {
		b.logger.Warn("setting bot commands failed", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if b.adminAddr != "" {
		g.Go(func() error {
			return web.ListenAndServe(gctx, &web.ListenAndServeConfig{
				Addr:    b.adminAddr,
				Handler: b.adminHandler(),
				Logger:  b.logger,
			})
		})
	}
	g.Go(func() error {
		systemd.WatchdogLoop(gctx, b.logger)
		return nil
	})
	g.Go(func() error {
		systemd.Notify(gctx, b.logger, systemd.Ready, systemd.Status("polling %s", apiHost(b.apiServer)))
		b.poll(gctx)
		systemd.Notify(gctx, b.logger, systemd.Stopping)
		// Stop the other goroutines once polling is over.
		return context.Canceled
	})

	err = g.Wait()
	b.logger.Info("waiting for transfers to finish", "running", b.running.Load())
	b.active.Wait()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func apiHost(apiServer string) string {
	u, err := url.Parse(apiServer)
	if err != nil || u.Host == "" {
		return apiServer
	}
	return u.Host
}

// poll receives updates until ctx is canceled.
func (b *bot) poll(ctx context.Context) {
	var offset int64
	for ctx.Err() == nil {
		updates, err := b.tg.GetUpdates(ctx, offset, telegram.PollTimeout)
		if ctx.Err() != nil {
			return
		}
		b.lastPoll.Store(&pollResult{at: time.Now(), err: err})
		if err != nil {
			b.logger.Warn("getting updates failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollRetryDelay):
			}
			continue
		}
		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.Message != nil {
				b.handleMessage(ctx, u.Message)
			}
		}
	}
}

func (b *bot) pollHealth() (string, bool) {
	p := b.lastPoll.Load()
	switch {
	case p == nil:
		return "not polled yet", false
	case p.err != nil:
		return fmt.Sprintf("last poll at %s failed: %v", p.at.Format(time.RFC3339), p.err), false
	default:
		return "last poll at " + p.at.Format(time.RFC3339), true
	}
}
