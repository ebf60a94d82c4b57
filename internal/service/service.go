package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rayvision-network/rendersync/internal/api"
	"github.com/rayvision-network/rendersync/internal/app/orchestrator"
	"github.com/rayvision-network/rendersync/internal/app/upload"
	"github.com/rayvision-network/rendersync/internal/domain"
	"github.com/rayvision-network/rendersync/internal/health"
	"github.com/rayvision-network/rendersync/internal/infra/dbini"
	"github.com/rayvision-network/rendersync/internal/infra/farmapi"
	"github.com/rayvision-network/rendersync/internal/infra/redisrec"
	"github.com/rayvision-network/rendersync/internal/infra/retry"
	"github.com/rayvision-network/rendersync/internal/infra/sqlite"
	"github.com/rayvision-network/rendersync/internal/infra/transmitter"
)

// Service is the rendersync runtime. It wires together all components.
type Service struct {
	Config   Config
	Logger   *log.Logger
	Oracle   domain.StatusOracle // nil when farm.endpoint is unset
	Invoker  domain.TransferInvoker
	Retry    *retry.Policy
	Ledger   *sqlite.DB            // nil when the ledger is disabled
	DBIni    *dbini.Writer         // nil when database.on is false
	Recorder domain.UploadRecorder // nil when upload.recorder is unset
	Server   *api.Server
	Health   *health.Checker

	logOutput io.Writer
	logFile   *os.File
	redis     *redisrec.Recorder
}

// Option customises a Service.
type Option func(*Service)

// WithOracle replaces the HTTP farm client.
func WithOracle(o domain.StatusOracle) Option { return func(s *Service) { s.Oracle = o } }

// WithInvoker replaces the transmitter subprocess.
func WithInvoker(i domain.TransferInvoker) Option { return func(s *Service) { s.Invoker = i } }

// WithLogOutput sends logs to w instead of stderr and the log file.
func WithLogOutput(w io.Writer) Option { return func(s *Service) { s.logOutput = w } }

// New loads the config file and creates a Service.
func New(opts ...Option) (*Service, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg, opts...)
}

// NewWithConfig creates a Service with the given configuration.
func NewWithConfig(cfg Config, opts ...Option) (*Service, error) {
	s := &Service{Config: cfg}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.openLogger(); err != nil {
		return nil, err
	}
	if err := s.wire(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) openLogger() error {
	out := s.logOutput
	if out == nil {
		out = os.Stderr
		if path := s.Config.Logging.File; path != "" {
			if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
				return fmt.Errorf("create log dir: %w", err)
			}
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			s.logFile = f
			out = io.MultiWriter(os.Stderr, f)
		}
	}
	s.Logger = log.New(out, "", log.LstdFlags)
	return nil
}

func (s *Service) wire() error {
	cfg := s.Config

	if err := s.TransferOptions().Validate(); err != nil {
		return err
	}
	if _, err := s.OrchestratorConfig(""); err != nil {
		return err
	}

	s.Retry = retry.New(retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   parseDuration(cfg.Retry.BaseDelay, 0),
		MaxDelay:    parseDuration(cfg.Retry.MaxDelay, 0),
	})

	// Farm API
	if s.Oracle == nil && cfg.Farm.Endpoint != "" {
		client, err := farmapi.New(farmapi.Config{
			Endpoint: cfg.Farm.Endpoint,
			Token:    cfg.Farm.Token,
			Timeout:  parseDuration(cfg.Farm.Timeout, 30*time.Second),
		})
		if err != nil {
			return err
		}
		s.Oracle = client
	}

	// Transmitter
	if s.Invoker == nil {
		inv, err := transmitter.NewInvoker(cfg.Transfer.Transmitter, rendersyncHome(), s.Logger)
		if err != nil {
			return err
		}
		inv.Echo = cfg.Logging.Transmitter
		s.Invoker = inv
	}

	// Run ledger
	if cfg.Ledger.Enabled {
		dir := cfg.Ledger.Dir
		if dir == "" {
			dir = rendersyncHome()
		}
		db, err := sqlite.Open(dir)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		s.Ledger = db
	}

	// Transmitter upload database
	if cfg.Database.On {
		w, err := dbini.NewWriter(dbini.Config{
			On:         cfg.Database.On,
			Type:       cfg.Database.Type,
			Dir:        cfg.Database.Path,
			PlatformID: cfg.Database.PlatformID,
			Temporary:  cfg.SQLite.Temporary,
			Redis: dbini.RedisConfig{
				Host:       cfg.Redis.Host,
				Port:       cfg.Redis.Port,
				Password:   cfg.Redis.Password,
				TableIndex: cfg.Redis.TableIndex,
				Timeout:    cfg.Redis.Timeout,
			},
		})
		if err != nil {
			return err
		}
		s.DBIni = w
	}

	// Upload recorder
	switch cfg.Upload.Recorder {
	case "":
	case "redis":
		db := 0
		if cfg.Redis.TableIndex != "" {
			n, err := strconv.Atoi(cfg.Redis.TableIndex)
			if err != nil || n < 0 {
				return &domain.ConfigError{Field: "redis.table_index", Value: cfg.Redis.TableIndex, Err: err}
			}
			db = n
		}
		timeout := time.Duration(cfg.Redis.Timeout) * time.Millisecond
		ctx, cancel := context.WithTimeout(context.Background(), max(timeout, time.Second))
		defer cancel()
		rec, err := redisrec.New(ctx, redisrec.Config{
			Addr:     net.JoinHostPort(cfg.Redis.Host, strconv.Itoa(cfg.Redis.Port)),
			Password: cfg.Redis.Password,
			DB:       db,
			Timeout:  timeout,
		})
		if err != nil {
			return err
		}
		s.redis = rec
		s.Recorder = rec
	case "sqlite":
		if s.Ledger == nil {
			return &domain.ConfigError{Field: "upload.recorder", Value: "sqlite (ledger disabled)"}
		}
		s.Recorder = s.Ledger
	default:
		return &domain.ConfigError{Field: "upload.recorder", Value: cfg.Upload.Recorder}
	}

	// Health checks
	s.Health = health.NewChecker()
	if inv, ok := s.Invoker.(*transmitter.Invoker); ok {
		s.Health.Add(health.TransmitterCheck(inv.Path()))
	}
	if s.Ledger != nil {
		s.Health.Add(health.LedgerCheck(s.Ledger))
	}
	if s.redis != nil {
		s.Health.Add(health.RedisCheck(s.redis))
	}
	if p := cfg.Transfer.LocalPath; p != "" {
		s.Health.Add(health.DirCheck("local_path", p))
	}

	// Status server
	s.Server = api.NewServer()
	s.Server.SetHealth(s.Health)
	if s.Ledger != nil {
		s.Server.SetLedger(s.Ledger)
	}
	if cfg.API.Metrics {
		s.Server.EnableMetrics()
	}
	return nil
}

// ─── Component Factories ────────────────────────────────────────────────────

// TransferOptions returns the configured transfer defaults.
func (s *Service) TransferOptions() domain.TransferOptions {
	t := s.Config.Transfer
	return domain.TransferOptions{
		MaxSpeed:       t.MaxSpeed,
		FilenameFormat: t.FilenameFormat,
		Engine:         domain.Engine(t.Engine),
		ServerHost:     t.ServerHost,
		ServerPort:     t.ServerPort,
		Network:        domain.NetworkMode(t.Network),
	}
}

// OrchestratorConfig builds a session config. An empty mode uses poll.mode.
func (s *Service) OrchestratorConfig(mode string) (orchestrator.Config, error) {
	p := s.Config.Poll
	if mode == "" {
		mode = p.Mode
	}
	m, err := orchestrator.ParseMode(mode)
	if err != nil {
		return orchestrator.Config{}, err
	}
	layout, err := orchestrator.ParseLayout(p.Layout)
	if err != nil {
		return orchestrator.Config{}, err
	}
	def := orchestrator.DefaultConfig()
	return orchestrator.Config{
		Mode:         m,
		PollInterval: parseDuration(p.Interval, def.PollInterval),
		GracePeriod:  parseDuration(p.Grace, def.GracePeriod),
		LocalPath:    s.Config.Transfer.LocalPath,
		Layout:       layout,
		Transfer:     s.TransferOptions(),
	}, nil
}

// NewOrchestrator creates a polling session over ids wired to the farm,
// the transmitter and the ledger.
func (s *Service) NewOrchestrator(cfg orchestrator.Config, ids []domain.TaskID, opts ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	if s.Oracle == nil {
		return nil, &domain.ConfigError{Field: "farm.endpoint", Value: ""}
	}
	base := []orchestrator.Option{
		orchestrator.WithRetry(s.Retry),
		orchestrator.WithLogger(s.Logger),
	}
	if s.Ledger != nil {
		base = append(base, orchestrator.WithRecorder(s.Ledger))
	}
	return orchestrator.New(cfg, s.Oracle, s.Invoker, ids, append(base, opts...)...)
}

// Downloader creates a one-shot downloader.
func (s *Service) Downloader() *orchestrator.Downloader {
	return orchestrator.NewDownloader(s.Oracle, s.Invoker, s.Logger)
}

// Uploader creates an uploader with the configured db ini, recorder and
// share info.
func (s *Service) Uploader() *upload.Uploader {
	opts := []upload.Option{
		upload.WithRetry(s.Retry),
		upload.WithLogger(s.Logger),
		upload.WithShare(upload.ShareInfo{
			ParentUserID:   s.Config.Upload.ParentUserID,
			ParentInputBid: s.Config.Upload.ParentInputBid,
		}),
	}
	if s.DBIni != nil {
		opts = append(opts, upload.WithDBIni(s.DBIni))
	}
	if s.Recorder != nil {
		opts = append(opts, upload.WithRecorder(s.Recorder))
	}
	return upload.New(s.Invoker, opts...)
}

// Dispatcher creates an upload pool. A non-positive poolSize uses
// upload.pool_size.
func (s *Service) Dispatcher(poolSize int) *upload.Dispatcher {
	if poolSize <= 0 {
		poolSize = s.Config.Upload.PoolSize
	}
	return upload.NewDispatcher(s.Uploader(), poolSize, s.Logger)
}

// ─── Status Server ──────────────────────────────────────────────────────────

// StatusAddr returns the configured status server address.
func (s *Service) StatusAddr() string {
	return net.JoinHostPort(s.Config.API.Host, strconv.Itoa(s.Config.API.Port))
}

// ServeStatus runs the status server on addr until ctx is done.
func (s *Service) ServeStatus(ctx context.Context, addr string) error {
	if addr == "" {
		addr = s.StatusAddr()
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go s.Health.Run(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	s.Logger.Printf("[service] status server on http://%s", addr)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all service resources.
func (s *Service) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.Ledger != nil {
		_ = s.Ledger.Close()
	}
	if s.logFile != nil {
		_ = s.logFile.Close()
	}
}
