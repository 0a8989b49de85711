package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	runtimepkg "github.com/drblury/eventflow/internal/runtime"
	"github.com/drblury/eventflow/internal/runtime/channels"
	"github.com/drblury/eventflow/internal/runtime/config"
	"github.com/drblury/eventflow/internal/runtime/envelope"
	"github.com/drblury/eventflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/eventflow/internal/runtime/logging"
	"github.com/drblury/eventflow/internal/runtime/schema"
)

// Global carries what every command writes to.
type Global struct {
	Out    io.Writer
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path (YAML). Empty uses environment only." type:"path"`
	EnvFile []string         `name:"env-file" help:"Dotenv files loaded before the configuration" default:".env"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Publish  PublishCmd  `cmd:"" help:"Publish an envelope read from a JSON file"`
	Validate ValidateCmd `cmd:"" help:"Validate an envelope without publishing it"`
	Schemas  SchemasCmd  `cmd:"" help:"List registered event types, versions and channels"`
	Serve    ServeCmd    `cmd:"" help:"Run the admin server (/metrics, /healthz, /breakers, /stats)"`
}

// AfterApply loads dotenv files and sets up logging once.
func (c *CLI) AfterApply(global *Global) error {
	for _, file := range c.EnvFile {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", file, err)
		}
	}

	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	global.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

func newService(ctx context.Context, global *Global, cfg *config.Config) (*runtimepkg.Service, error) {
	return runtimepkg.TryNewService(cfg, serviceLogger(global), ctx, runtimepkg.ServiceDependencies{})
}

func newRegistry(cfg *config.Config) (*schema.Registry, error) {
	return schema.Default(
		schema.WithNaming(channels.NewNaming(cfg.ChannelNamespace)),
		schema.WithClockSkew(cfg.ClockSkew),
	)
}

func serviceLogger(global *Global) loggingpkg.ServiceLogger {
	logger := global.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return loggingpkg.NewSlogServiceLogger(logger)
}

// readEnvelope decodes an envelope file. A missing id or timestamp is filled
// in so hand-written files stay short.
func readEnvelope(path string, now time.Time) (envelope.Envelope, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("read envelope: %w", err)
	}
	env, err := envelope.Unmarshal(raw)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.ID == "" {
		env.ID = ids.NewEventID()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = now.UTC()
	}
	return env, nil
}
