package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	config "github.com/drummonds/pdf2image/config"
	engine "github.com/drummonds/pdf2image/engine"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	config.Logger = Logger
	engine.Logger = Logger
}

// @title pdf2image API
// @version 1.0
// @description Renders PDF pages to images with the poppler command line tools

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8000
// @BasePath /api
// @schemes http https

// @tag.name PDF
// @tag.description Page rendering, document info and text extraction

// @tag.name Admin
// @tag.description Service health check

func main() {
	// Parse command-line flags
	port := flag.String("port", "", "Port to run the server on (overrides SERVER_PORT)")
	flag.Parse()

	serverConfig, logger := config.SetupServer()
	injectGlobals(logger) //inject the logger into all of the packages

	if *port != "" {
		serverConfig.ListenAddrPort = *port
	}

	e := newEcho(serverConfig)
	Logger.Info("Echo created")

	serverHandler := engine.NewServerHandler(e, serverConfig)
	if err := serverHandler.StartupChecks(); err != nil { //Run all the sanity checks
		Logger.Error("Startup checks failed", "error", err)
		os.Exit(1)
	}
	scheduler := serverHandler.InitializeSchedules() //initialize all the cron jobs
	serverHandler.RegisterRoutes()
	Logger.Info("Routes registered")

	addr := fmt.Sprintf("%s:%s", serverConfig.ListenAddrIP, serverConfig.ListenAddrPort)
	if serverConfig.ListenAddrIP == "" {
		Logger.Info("No Ip Addr set, binding on ALL addresses")
	}
	fmt.Printf("\n✅  pdf2image running on %s\n", addr)
	fmt.Printf("🏥  Health check: http://%s/api/health\n\n", addr)

	go func() {
		Logger.Info("Starting HTTP server", "address", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if isAddressInUse(err) {
				Logger.Error("Port already in use", "port", serverConfig.ListenAddrPort)
			}
			Logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	Logger.Info("Shutting down")
	<-scheduler.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		Logger.Error("Server shutdown failed", "error", err)
	}
}

func newEcho(serverConfig config.ServerConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// JSON for unknown API endpoints
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}

		if code == http.StatusNotFound {
			c.JSON(http.StatusNotFound, map[string]string{
				"error":   "Not Found",
				"message": "The requested API endpoint does not exist",
				"path":    c.Request().URL.Path,
			})
			return
		}

		// For other errors, use default handler
		e.DefaultHTTPErrorHandler(err, c)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", serverConfig.MaxUploadMB+1)))
	e.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig))

	// Request logging
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "method=${method}, uri=${uri}, status=${status}, latency=${latency_human}\n",
	}))
	return e
}

// isAddressInUse checks if the error is due to address already in use
func isAddressInUse(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "address already in use")
}
