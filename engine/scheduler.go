package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/drummonds/pdf2image/engine/pdfrenderer"
	"github.com/robfig/cron/v3"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// InitializeSchedules starts all the cron jobs (currently just the temp sweeper).
// The returned cron must be stopped on shutdown.
func (serverHandler *ServerHandler) InitializeSchedules() *cron.Cron {
	interval := serverHandler.ServerConfig.SweepInterval
	maxAge := serverHandler.ServerConfig.SweepMaxAge
	dir := serverHandler.ServerConfig.TempDir
	if dir == "" {
		dir = os.TempDir()
	}

	c := cron.New()
	var sweepJob cron.Job
	sweepJob = cron.FuncJob(func() { sweepJobFunc(dir, maxAge) })
	sweepJob = cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(sweepJob) //ensure we don't kick off another if old one is still running
	if _, err := c.AddJob(fmt.Sprintf("@every %s", interval), sweepJob); err != nil {
		Logger.Error("Unable to schedule temp sweeper", "interval", interval, "error", err)
		return c
	}
	Logger.Info("Adding temp sweeper scheduler", "interval", interval, "maxAge", maxAge, "dir", dir)
	c.Start()
	return c
}

func sweepJobFunc(dir string, maxAge time.Duration) {
	removed, err := sweepTempDirs(dir, maxAge, time.Now())
	if err != nil {
		Logger.Error("Temp sweep failed", "dir", dir, "error", err)
		return
	}
	if removed > 0 {
		Logger.Info("Removed stale temp directories", "dir", dir, "count", removed)
	}
}

// sweepTempDirs removes renderer temp directories under dir that are older
// than maxAge. Normal calls clean up after themselves; this catches the ones
// left behind by a crash.
func sweepTempDirs(dir string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), pdfrenderer.TempPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			Logger.Warn("Unable to remove stale temp directory", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
