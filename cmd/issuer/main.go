package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	v1 "k8s.io/externaljwt/apis/v1"
	"k8s.io/externaljwt/apis/v1alpha1"

	"github.com/zarvd/jwks-test-issuer/internal/jwks"
	"github.com/zarvd/jwks-test-issuer/internal/key"
	"github.com/zarvd/jwks-test-issuer/internal/metrics"
	"github.com/zarvd/jwks-test-issuer/internal/server"
	"github.com/zarvd/jwks-test-issuer/internal/token"
)

type CLI struct {
	EnvFile string `default:".env" env:"ISSUER_ENV_FILE" help:"Optional dotenv file loaded before flags are parsed"`

	HTTPAddress      string        `name:"http-address" default:":8080" env:"ISSUER_HTTP_ADDRESS" help:"Address to serve the key set and token routes on"`
	GRPCSocket       string        `name:"grpc-socket" env:"ISSUER_GRPC_SOCKET" help:"Unix domain socket for the Kubernetes external JWT signer API; disabled when empty"`
	KeyTTL           time.Duration `name:"key-ttl" default:"1h" env:"ISSUER_KEY_TTL" help:"Lifetime of each signing key"`
	RotationInterval time.Duration `name:"rotation-interval" default:"1m" env:"ISSUER_ROTATION_INTERVAL" help:"How often to check for rotation; 0 disables rotation"`
	RotationLead     time.Duration `name:"rotation-lead" default:"15m" env:"ISSUER_ROTATION_LEAD" help:"Generate a replacement when the newest key expires within this window"`
	ShutdownTimeout  time.Duration `name:"shutdown-timeout" default:"10s" env:"ISSUER_SHUTDOWN_TIMEOUT" help:"Grace period for in-flight requests on shutdown"`

	LogLevel  string `name:"log-level" default:"info" enum:"debug,info,warn,error" env:"ISSUER_LOG_LEVEL" help:"Minimum log level"`
	LogFormat string `name:"log-format" default:"text" enum:"text,json" env:"ISSUER_LOG_FORMAT" help:"Log output format"`
}

// Validate rejects durations that would leave the service without a usable
// key or rotating on every tick. kong calls it after parsing.
func (cli *CLI) Validate() error {
	switch {
	case cli.KeyTTL <= 0:
		return fmt.Errorf("--key-ttl must be positive, got %s", cli.KeyTTL)
	case cli.RotationInterval < 0:
		return fmt.Errorf("--rotation-interval must not be negative, got %s", cli.RotationInterval)
	case cli.RotationInterval > 0 && cli.RotationLead <= 0:
		return fmt.Errorf("--rotation-lead must be positive, got %s", cli.RotationLead)
	case cli.RotationInterval > 0 && cli.RotationLead >= cli.KeyTTL:
		return fmt.Errorf("--rotation-lead (%s) must be shorter than --key-ttl (%s)", cli.RotationLead, cli.KeyTTL)
	}
	return nil
}

func (cli *CLI) Run(ctx context.Context, logger *slog.Logger) error {
	m, err := metrics.New(nil)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	store := key.NewStore(logger.With(slog.String("component", "store")), nil)
	store.SetRecorder(m)
	generator := key.NewGenerator(logger.With(slog.String("component", "generator")), store, cli.KeyTTL, nil)
	generator.SetRecorder(m)
	publisher := jwks.NewPublisher(logger, store)
	issuer := token.NewIssuer(logger, store, nil)
	issuer.SetRecorder(m)

	// without an initial key the service could never sign anything
	if _, err := generator.Generate(ctx); err != nil {
		return fmt.Errorf("failed to generate initial key: %w", err)
	}

	var listener net.Listener
	if cli.GRPCSocket != "" {
		listener, err = net.Listen("unix", cli.GRPCSocket)
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:              cli.HTTPAddress,
		Handler:           server.NewHTTPServer(logger, store, generator, publisher, issuer, m).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("serving HTTP on", slog.String("address", cli.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve HTTP: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if listener != nil {
		km := server.NewKeyManager(store, publisher, issuer, generator)
		grpcServer := grpc.NewServer()
		v1.RegisterExternalJWTSignerServer(grpcServer, server.NewV1Server(logger, km))
		v1alpha1.RegisterExternalJWTSignerServer(grpcServer, server.NewV1Alpha1Server(logger, km))

		g.Go(func() error {
			logger.Info("serving gRPC on", slog.String("address", listener.Addr().String()))
			if err := grpcServer.Serve(listener); err != nil {
				return fmt.Errorf("failed to serve gRPC: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			grpcServer.GracefulStop()
			return nil
		})
	}

	if cli.RotationInterval > 0 {
		rotator := key.NewRotator(logger, store, generator, cli.RotationInterval, cli.RotationLead)
		g.Go(func() error {
			return rotator.Run(ctx)
		})
	} else {
		logger.Warn("key rotation disabled, the store empties once the initial key expires")
	}

	err = g.Wait()
	logger.Info("shutting down")
	return err
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadEnvFile reads the dotenv file named by --env-file (or its env var)
// before kong resolves the remaining flags from the environment. A missing
// default .env is not an error; a file named explicitly must load.
func loadEnvFile(args []string) error {
	path := os.Getenv("ISSUER_ENV_FILE")
	for i, arg := range args {
		if v, ok := strings.CutPrefix(arg, "--env-file="); ok {
			path = v
		} else if arg == "--env-file" && i+1 < len(args) {
			path = args[i+1]
		}
	}
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %q: %w", path, err)
	}
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	envErr := loadEnvFile(os.Args[1:])

	var cli CLI
	cliCtx := kong.Parse(&cli,
		kong.Name("jwks-test-issuer"),
		kong.Description("Signing-key lifecycle manager and test token issuer."),
	)

	logger := newLogger(os.Stderr, cli.LogLevel, cli.LogFormat)
	if envErr != nil {
		logger.Warn("ignoring env file", slog.Any("error", envErr))
	}

	cliCtx.BindTo(ctx, (*context.Context)(nil))
	cliCtx.Bind(logger)

	if err := cliCtx.Run(); err != nil {
		logger.Error("failed to run CLI", slog.Any("error", err))
		os.Exit(1)
	}
}
