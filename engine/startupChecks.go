package engine

import (
	"fmt"
	"os"

	"github.com/drummonds/pdf2image/config"
	"github.com/drummonds/pdf2image/engine/pdfrenderer"
)

// StartupChecks performs all the checks to make sure everything works
func (serverHandler *ServerHandler) StartupChecks() error {
	popplerChecks(serverHandler.Renderer.Tools())
	return tempDirectoryChecks(serverHandler.ServerConfig)
}

// popplerChecks logs which tools resolved. Missing tools are not fatal; the
// endpoints that need them answer 503.
func popplerChecks(tools pdfrenderer.Tools) {
	for _, tool := range pdfrenderer.AllTools {
		if tools.Available(tool) {
			Logger.Info("Poppler tool found", "tool", tool, "path", tools.Path(tool))
			continue
		}
		Logger.Warn("Poppler tool not found, requests that need it will fail", "tool", tool, "path", tools.Path(tool))
	}
}

// tempDirectoryChecks ensures the configured temp directory exists
func tempDirectoryChecks(serverConfig config.ServerConfig) error {
	if serverConfig.TempDir == "" {
		Logger.Info("Temp directory not configured, using system default", "path", os.TempDir())
		return nil
	}

	// Check if directory exists
	tempInfo, err := os.Stat(serverConfig.TempDir)
	if err != nil {
		if os.IsNotExist(err) {
			// Create the directory
			Logger.Info("Creating temp directory", "path", serverConfig.TempDir)
			err = os.MkdirAll(serverConfig.TempDir, 0755)
			if err != nil {
				Logger.Error("Failed to create temp directory", "path", serverConfig.TempDir, "error", err)
				return err
			}
			Logger.Info("Temp directory created successfully", "path", serverConfig.TempDir)
			return nil
		}
		Logger.Error("Error checking temp directory", "path", serverConfig.TempDir, "error", err)
		return err
	}

	// Check if it's actually a directory
	if !tempInfo.IsDir() {
		Logger.Error("Temp path exists but is not a directory", "path", serverConfig.TempDir)
		return fmt.Errorf("temp path is not a directory: %s", serverConfig.TempDir)
	}

	Logger.Info("Temp directory exists", "path", serverConfig.TempDir)
	return nil
}
