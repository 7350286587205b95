package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/drummonds/pdf2image/engine/pdfrenderer"
	"github.com/joho/godotenv"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// ServerConfig contains all of the server settings
type ServerConfig struct {
	ListenAddrIP   string
	ListenAddrPort string
	PopplerPath    string // directory holding pdfinfo, pdftoppm and friends; empty uses PATH
	MaxConcurrency int
	UsePdftocairo  bool // default rasterizer when a request does not choose one
	TempDir        string
	MaxUploadMB    int
	SweepInterval  time.Duration
	SweepMaxAge    time.Duration
	PreviewWidth   int // default width for rendered previews, 0 keeps the native size
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// getEnvDuration gets a duration environment variable ("10m", "1h") with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

// ToolsFromEnv locates the poppler executables from PDF2IMAGE_POPPLER_PATH.
// An unset variable leaves lookup to the executable search path.
func ToolsFromEnv() pdfrenderer.Tools {
	return pdfrenderer.Tools{Dir: os.Getenv("PDF2IMAGE_POPPLER_PATH")}
}

// SetupServer loads configuration and returns ServerConfig and Logger
func SetupServer() (ServerConfig, *slog.Logger) {
	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	logger := setupLogging()
	Logger = logger

	serverConfigLive := loadServerConfig()

	fmt.Println("\n========================================")
	fmt.Println("   pdf2image - PDF rendering service")
	fmt.Println("========================================")
	fmt.Printf("Server will start on: %s:%s\n", serverConfigLive.ListenAddrIP, serverConfigLive.ListenAddrPort)
	if serverConfigLive.ListenAddrIP == "" {
		fmt.Println("(Listening on all network interfaces)")
	}
	if getEnv("LOG_OUTPUT", "file") != "stdout" {
		fmt.Printf("Detailed logs: %s\n", getEnv("LOG_FILE", "pdf2image.log"))
	}

	if err := checkExecutables(ToolsFromEnv(), logger); err != nil {
		logger.Warn("Some poppler tools are missing, affected endpoints will fail", "error", err)
	}

	logger.Info("Configuration loaded",
		"popplerPath", serverConfigLive.PopplerPath,
		"maxConcurrency", serverConfigLive.MaxConcurrency,
		"tempDir", serverConfigLive.TempDir)

	return serverConfigLive, logger
}

// SetupCLI loads the same environment as the server but only logs to
// stderr at warn level unless LOG_LEVEL says otherwise.
func SetupCLI() (ServerConfig, *slog.Logger) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	level := parseLevel(getEnv("LOG_LEVEL", "warn"))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	Logger = logger

	return loadServerConfig(), logger
}

func loadServerConfig() ServerConfig {
	cfg := ServerConfig{}

	// Server configuration
	cfg.ListenAddrPort = getEnv("SERVER_PORT", "8000")
	cfg.ListenAddrIP = getEnv("SERVER_ADDR", "")

	// Renderer configuration
	cfg.PopplerPath = ToolsFromEnv().Dir
	cfg.MaxConcurrency = getEnvInt("PDF2IMAGE_MAX_CONCURRENCY", pdfrenderer.DefaultMaxConcurrency)
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = pdfrenderer.DefaultMaxConcurrency
	}
	cfg.UsePdftocairo = getEnvBool("PDF2IMAGE_USE_PDFTOCAIRO", false)
	cfg.TempDir = getEnv("PDF2IMAGE_TEMP_DIR", "")
	if cfg.TempDir != "" {
		tempDirAbs, err := filepath.Abs(filepath.ToSlash(cfg.TempDir))
		if err == nil {
			cfg.TempDir = tempDirAbs
		}
	}

	// HTTP limits
	cfg.MaxUploadMB = getEnvInt("MAX_UPLOAD_MB", 64)
	cfg.PreviewWidth = getEnvInt("PREVIEW_WIDTH", 0)

	// Temp sweeper
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", 10*time.Minute)
	cfg.SweepMaxAge = getEnvDuration("SWEEP_MAX_AGE", time.Hour)

	return cfg
}

func parseLevel(logLevel string) slog.Level {
	switch logLevel {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// setupLogging configures the application logger
func setupLogging() *slog.Logger {
	handlerOptions := &slog.HandlerOptions{Level: parseLevel(getEnv("LOG_LEVEL", "debug"))}

	logOutput := getEnv("LOG_OUTPUT", "file")
	var logWriter io.Writer

	if logOutput == "stdout" {
		logWriter = os.Stdout
	} else {
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "pdf2image.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
			logWriter = os.Stdout
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
				logWriter = os.Stdout
			} else {
				logWriter = logFile
				fmt.Println("Logging to file: ", logPath)
			}
		}
	}

	handler := slog.NewTextHandler(logWriter, handlerOptions)
	return slog.New(handler)
}

// checkExecutables verifies that every poppler tool can be resolved
func checkExecutables(tools pdfrenderer.Tools, logger *slog.Logger) error {
	missing := tools.Missing()
	if len(missing) > 0 {
		logger.Error("Cannot find poppler executables", "dir", tools.Dir, "missing", missing)
		return fmt.Errorf("missing poppler tools: %v", missing)
	}
	logger.Debug("Poppler executables found", "dir", tools.Dir)
	return nil
}
