// Package cli wires the streaming pipeline into a cobra command tree.
// The root command streams raw tracks to stdout with in-band format
// headers, record and play consume a framed stream from stdin, and
// analyze queries the track history database.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"wavepipe.click/internal/config"
	"wavepipe.click/internal/tracking"
)

const Version = "1.2.0"

// CLI bundles the command tree with the lazily created subsystems the
// commands share.
type CLI struct {
	rootCmd          *cobra.Command
	configManager    *config.ConfigManager
	terminalDetector TerminalDetector
	trackingDB       *sql.DB // nil until a command needs track history
}

// NewCLI creates a new CLI instance
func NewCLI() *CLI {
	slog.Debug("creating new CLI instance")

	rootCmd := &cobra.Command{
		Use:   "wavepipe [track...]",
		Short: "Stream raw PCM/DSD tracks to stdout with in-band format headers",
		Long: `wavepipe reads raw audio tracks and streams their frames to stdout,
announcing every format change with a fixed 16-byte header so the
consumer can follow sample rate, bit depth and DSD mode mid-stream.

Each track argument is path[:rate[:bits[:format[:invert]]]], where "-"
reads the track from stdin. Tracks that share a format flow gapless
with no header between them.`,
		Args: cobra.ArbitraryArgs,
		RunE: runStreamE, // default behavior: stream the given tracks
	}

	rootCmd.AddCommand(newRecordCommand())
	rootCmd.AddCommand(newPlayCommand())
	rootCmd.AddCommand(newAnalyzeCommand())

	// Persistent flags shared by the root run and the subcommands
	rootCmd.PersistentFlags().String("config", "", "Path to config file")
	rootCmd.PersistentFlags().Int("output", 0, "Output sample packing in bits (16, 24 or 32)")
	rootCmd.PersistentFlags().Int("rate", 0, "Sample rate assumed before the first track")
	rootCmd.PersistentFlags().Int("buffer", 0, "Stream buffer capacity in frames")
	rootCmd.PersistentFlags().Int("block", 0, "Frames rendered per output iteration")
	rootCmd.PersistentFlags().Int("idle-ms", -1, "Output loop sleep in milliseconds when nothing is pending")
	rootCmd.PersistentFlags().Bool("dsd", false, "Accept DSD tracks (DoP or native words)")
	rootCmd.PersistentFlags().Bool("silent", false, "Disable track history recording")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("force", false, "Stream even when stdout is a terminal")

	// Add version flag
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	return &CLI{
		rootCmd:          rootCmd,
		configManager:    nil, // Lazy initialization - only create when needed
		terminalDetector: nil, // Lazy initialization - only create when needed
		trackingDB:       nil, // Opened on demand by commands that record or query history
	}
}

// contextWithCLI stores CLI instance in context for command handlers
func contextWithCLI(cli *CLI) context.Context {
	return context.WithValue(context.Background(), "cli", cli)
}

// cliFromContext extracts CLI instance from context
func cliFromContext(ctx context.Context) *CLI {
	if cli, ok := ctx.Value("cli").(*CLI); ok {
		return cli
	}
	return nil
}

// handleVersionFlag checks and handles the version flag
// Returns true if version was handled and processing should stop
func handleVersionFlag(cmd *cobra.Command) (bool, error) {
	version, _ := cmd.Flags().GetBool("version")
	if version {
		cmd.Printf("wavepipe version %s\nFramed PCM/DSD stream driver\n", Version)
		return true, nil
	}
	return false, nil
}

// loadAndValidateConfig loads configuration from flags and files, applies overrides, and validates
func loadAndValidateConfig(cmd *cobra.Command, cli *CLI) (*config.Config, error) {
	// Get flag values
	configFile, _ := cmd.Flags().GetString("config")
	outputBits, _ := cmd.Flags().GetInt("output")
	rate, _ := cmd.Flags().GetInt("rate")
	bufferFrames, _ := cmd.Flags().GetInt("buffer")
	blockFrames, _ := cmd.Flags().GetInt("block")
	idleMs, _ := cmd.Flags().GetInt("idle-ms")
	logLevel, _ := cmd.Flags().GetString("log-level")
	silent, _ := cmd.Flags().GetBool("silent")

	// Load configuration
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = cli.configManager.LoadFromFile(configFile)
		if err != nil {
			// If config file doesn't exist, use defaults
			slog.Warn("config file not found, using defaults", "file", configFile, "error", err)
			cfg = cli.configManager.GetDefaultConfig()
		}
	} else {
		cfg, err = cli.configManager.LoadConfig()
		if err != nil {
			cmd.PrintErrf("Error loading config: %v\n", err)
			slog.Error("config load failed", "error", err)
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	}

	// Apply environment overrides
	cfg = cli.configManager.ApplyEnvironmentOverrides(cfg)

	// Apply command line overrides
	if outputBits != 0 {
		cfg.OutputBits = outputBits
		slog.Debug("output bits override applied", "value", outputBits)
	}

	if rate != 0 {
		cfg.RateHint = rate
		slog.Debug("rate hint override applied", "value", rate)
	}

	if bufferFrames != 0 {
		cfg.BufferFrames = bufferFrames
		slog.Debug("buffer frames override applied", "value", bufferFrames)
	}

	if blockFrames != 0 {
		cfg.BlockFrames = blockFrames
		slog.Debug("block frames override applied", "value", blockFrames)
	}

	if idleMs >= 0 {
		cfg.IdleSleepMs = idleMs
		slog.Debug("idle sleep override applied", "value", idleMs)
	}

	if cmd.Flags().Changed("dsd") {
		dsd, _ := cmd.Flags().GetBool("dsd")
		cfg.DSDCapable = dsd
		slog.Debug("dsd capability override applied", "value", dsd)
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
		slog.Debug("log level override applied", "value", logLevel)
	}

	if silent {
		if cfg.Tracking == nil {
			cfg.Tracking = config.GetDefaultTrackingConfig()
		}
		cfg.Tracking.Enabled = false
		slog.Debug("silent mode enabled, track history off")
	}

	// Validate final configuration
	err = cli.configManager.ValidateConfig(cfg)
	if err != nil {
		cmd.PrintErrf("Error: invalid configuration: %v\n", err)
		slog.Error("config validation failed", "error", err)
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupLogging configures slog with a handler per destination: stderr
// stays quiet at warn and above while the rotating log file receives
// the configured level. Stdout carries the audio stream and is never a
// log destination.
func setupLogging(cfg *config.Config, stderrWriter io.Writer) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelWarn
	}

	// A parent player usually owns our stderr, so verbose levels go to
	// the file and stderr keeps warnings and errors only.
	stderrLevel := slog.LevelWarn
	if level > stderrLevel {
		stderrLevel = level
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(stderrWriter, &slog.HandlerOptions{Level: stderrLevel}),
	}

	// Add file logging if enabled
	if cfg.FileLogging != nil && cfg.FileLogging.Enabled {
		// Resolve log file path using config manager
		configManager := config.NewConfigManager()
		logFilePath := configManager.ResolveLogFilePath(cfg.FileLogging.Filename)

		// Create log file directory if needed
		logDir := filepath.Dir(logFilePath)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			slog.Error("failed to create log directory", "path", logDir, "error", err)
			// Continue without file logging rather than failing
		} else {
			// Create lumberjack logger for file rotation
			fileWriter := &lumberjack.Logger{
				Filename:   logFilePath,
				MaxSize:    cfg.FileLogging.MaxSizeMB,
				MaxBackups: cfg.FileLogging.MaxBackups,
				MaxAge:     cfg.FileLogging.MaxAgeDays,
				Compress:   cfg.FileLogging.Compress,
			}
			handlers = append(handlers, slog.NewTextHandler(fileWriter, &slog.HandlerOptions{Level: level}))
			slog.Debug("file logging enabled", "path", logFilePath, "level", level.String())
		}
	}

	if len(handlers) == 1 {
		// No file target, so the configured level must be visible on
		// stderr or a debug run would log nowhere.
		handlers[0] = slog.NewTextHandler(stderrWriter, &slog.HandlerOptions{Level: level})
	}

	// Set as default logger
	slog.SetDefault(slog.New(NewMultiLevelHandler(handlers...)))

	slog.Debug("logging setup completed",
		"level", level.String(),
		"handlers", len(handlers),
		"file_enabled", cfg.FileLogging != nil && cfg.FileLogging.Enabled)
}

// initializeTracking opens the track history database if enabled in
// configuration. Failures degrade to streaming without history, never
// to a stream failure.
func (c *CLI) initializeTracking(cfg *config.Config) {
	if c.trackingDB != nil {
		slog.Debug("track history database already open, skipping")
		return // Already initialized
	}

	// Check if tracking is enabled
	if cfg.Tracking == nil || !cfg.Tracking.Enabled {
		slog.Debug("track history disabled, skipping database initialization",
			"tracking_nil", cfg.Tracking == nil,
			"enabled", cfg.Tracking != nil && cfg.Tracking.Enabled)
		return
	}

	// Determine database path
	var dbPath string
	if cfg.Tracking.DatabasePath != "" {
		dbPath = cfg.Tracking.DatabasePath
		slog.Debug("using custom database path from config", "path", dbPath)
	} else {
		// Use default XDG cache path
		var err error
		dbPath, err = tracking.DefaultDatabasePath()
		if err != nil {
			slog.Error("failed to resolve database path, continuing without track history", "error", err)
			return // Graceful degradation
		}
		slog.Debug("using default XDG database path", "path", dbPath)
	}

	// Initialize database with graceful degradation
	db, err := tracking.NewDatabase(dbPath)
	if err != nil {
		slog.Error("failed to open track history database, continuing without it",
			"path", dbPath, "error", err)
		return // Graceful degradation - continue without tracking
	}

	c.trackingDB = db
	slog.Info("track history database opened", "path", dbPath)
}

// Run executes the CLI with the given arguments and I/O streams
func (c *CLI) Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	slog.Debug("CLI run started", "args", args)

	// Version requests must not touch config, logging or the database.
	if len(args) > 1 && (args[1] == "--version" || args[1] == "-v") {
		fmt.Fprintf(stdout, "wavepipe version %s\nFramed PCM/DSD stream driver\n", Version)
		return 0
	}

	c.initializeSystems()

	// Ensure resources are cleaned up on exit
	defer func() {
		if c.trackingDB != nil {
			err := c.trackingDB.Close()
			if err != nil {
				slog.Error("error closing track history database", "error", err)
			}
		}
	}()

	// Configure cobra to use the provided I/O streams
	c.rootCmd.SetArgs(args[1:]) // Skip program name
	c.rootCmd.SetIn(stdin)
	c.rootCmd.SetOut(stdout)
	c.rootCmd.SetErr(stderr)

	// Store CLI instance for access in command handlers
	c.rootCmd.SetContext(contextWithCLI(c))

	// Execute cobra command
	if err := c.rootCmd.Execute(); err != nil {
		slog.Error("cobra execution failed", "error", err)
		return 1
	}

	return 0
}

// initializeSystems prepares the subsystems every command relies on.
// The track history database stays closed until a command asks for it.
func (c *CLI) initializeSystems() {
	if c.configManager == nil {
		c.configManager = config.NewConfigManager()
	}
	if c.terminalDetector == nil {
		c.terminalDetector = &DefaultTerminalDetector{}
	}
}
