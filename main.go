package main

import (
	"embed"
	"errors"
	"log/slog"
	"os"

	"treeterm/internal/ipc"
	"treeterm/internal/singleinstance"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	// Single-instance check BEFORE any Wails/WebView initialization. A
	// second launch hands its working directory to the running instance and
	// exits.
	lock, err := singleinstance.TryLock("")
	if errors.Is(err, singleinstance.ErrAlreadyRunning) {
		cwd, _ := os.Getwd()
		slog.Info("[main] another instance is already running, signaling activation", "cwd", cwd)
		if _, sendErr := ipc.Send("", ipc.ActivateRequest{CWD: cwd}); sendErr != nil {
			slog.Warn("[main] failed to signal existing instance", "error", sendErr)
		}
		return
	}
	if err != nil {
		// Lock acquisition failed for an unexpected reason. Continue startup
		// rather than refusing to launch.
		slog.Warn("[main] single-instance lock failed, proceeding without guard", "error", err)
	}
	if lock != nil {
		defer func() {
			if releaseErr := lock.Release(); releaseErr != nil {
				slog.Warn("[main] single-instance lock release failed", "error", releaseErr)
			}
		}()
	}

	app := NewApp()

	err = wails.Run(&options.App{
		Title:     "treeterm",
		Width:     1280,
		Height:    840,
		MinWidth:  900,
		MinHeight: 560,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		BackgroundColour: &options.RGBA{R: 16, G: 18, B: 24, A: 1},
		OnStartup:        app.startup,
		OnShutdown:       app.shutdown,
		Bind: []any{
			app,
		},
	})

	if err != nil {
		slog.Error("[main] wails run failed", "error", err)
	}
}
