package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spotizerr-dev/spotizerr-sub000/download/logging"
)

var (
	// Version is set at build time via ldflags
	// Example: go build -ldflags="-X main.Version=v1.2.3"
	Version = "dev"
)

const (
	// Default port for the API server
	defaultPort = 7171
	// Default config path
	defaultConfigPath = "./config.yaml"
	// Default data directory (databases, stats)
	defaultDataDir = "./data"
	// Default log path
	defaultLogPath = "./data/logs/spotizerr.log"
	// Default server URL for the client subcommands
	defaultServerURL = "http://localhost:7171"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	// Handle version command
	if command == "version" || command == "--version" || command == "-v" {
		fmt.Printf("spotizerr version %s\n", Version)
		os.Exit(0)
	}

	switch command {
	case "serve":
		serveCommand()
	case "submit":
		submitCommand()
	case "status":
		statusCommand()
	case "monitor":
		monitorCommand()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `spotizerr - music download orchestration service

USAGE:
    spotizerr <command> [flags]

COMMANDS:
    serve      Start the API server and download workers
    submit     Queue Spotify URLs on a running server
    status     Show tracked tasks on a running server
    monitor    Live queue view against a running server
    version    Show version information

FLAGS:
    -h, --help    Show this help message

EXAMPLES:
    spotizerr serve
    spotizerr serve --port 7171 --config ./config.yaml
    spotizerr submit https://open.spotify.com/album/4aawyAB9vmqN3uQ7FjRGTy
    spotizerr status
    spotizerr monitor

For more information, see https://github.com/spotizerr-dev/spotizerr-sub000
`)
}

func serveCommand() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", defaultPort, "HTTP server port")
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	dataDir := fs.String("data-dir", defaultDataDir, "Directory for databases and statistics")
	logPath := fs.String("log-path", defaultLogPath, "Path to log file")
	envFile := fs.String("env-file", "", "Optional .env file consulted for credentials")
	fs.Parse(os.Args[2:])

	logWriter, closeLog, err := logging.OpenFileWriter(*logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spotizerr: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	logger := logging.New(logWriter, "cli")

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}

	server, err := NewServer(&ServerConfig{
		Port:       *port,
		ConfigPath: *configPath,
		DataDir:    *dataDir,
		EnvFiles:   envFiles,
		LogWriter:  logWriter,
		Version:    Version,
	})
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		logger.Info("spotizerr starting", "version", Version, "port", *port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for signal or error
	select {
	case sig := <-sigChan:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
			return
		}
		logger.Info("server stopped")
	case err := <-errChan:
		logger.Fatal("server error", "error", err)
	}
}

func submitCommand() {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "Base URL of a running spotizerr server")
	fs.Parse(os.Args[2:])

	args := fs.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: spotizerr submit [flags] <spotify-url> [<spotify-url>...]")
		os.Exit(1)
	}

	client := NewClient(*serverURL)
	exitCode := 0
	for _, raw := range args {
		result, err := client.Submit(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "submit %s: %v\n", raw, err)
			exitCode = 1
			continue
		}
		for _, id := range result.Queued {
			fmt.Printf("queued  %s  %s\n", id, raw)
		}
		for url, id := range result.Duplicates {
			fmt.Printf("already running  %s  %s\n", id, url)
		}
	}
	os.Exit(exitCode)
}

func statusCommand() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "Base URL of a running spotizerr server")
	fs.Parse(os.Args[2:])

	client := NewClient(*serverURL)

	if args := fs.Args(); len(args) > 0 {
		detail, err := client.TaskDetail(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "status %s: %v\n", args[0], err)
			os.Exit(1)
		}
		fmt.Printf("task:    %s\n", detail.TaskID)
		fmt.Printf("type:    %s\n", detail.Info.Kind)
		fmt.Printf("name:    %s\n", formatDisplay(detail.Info.Display.Name, detail.Info.Display.Artist))
		fmt.Printf("url:     %s\n", detail.Info.SourceURL)
		fmt.Printf("created: %s\n", detail.Info.CreatedAt.Format(time.RFC3339))
		fmt.Println("timeline:")
		for _, entry := range detail.Statuses {
			fmt.Printf("  %3d  %s  %s\n", entry.StatusID, entry.Timestamp.Format("15:04:05"), entry.Status)
		}
		return
	}

	list, err := client.Tasks()
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
	if list.Paused {
		fmt.Println("queue: PAUSED")
	}
	if len(list.Tasks) == 0 {
		fmt.Println("no tracked tasks")
		return
	}
	for _, t := range list.Tasks {
		fmt.Printf("%s  %-8s  %-12s  %s\n",
			t.TaskID, t.Kind, t.Status, formatDisplay(t.Display.Name, t.Display.Artist))
	}
}

func monitorCommand() {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "Base URL of a running spotizerr server")
	noTUI := fs.Bool("no-tui", false, "Plain text output instead of the interactive view")
	fs.Parse(os.Args[2:])

	client := NewClient(*serverURL)

	if !WantTUI(*noTUI) {
		runPlainMonitor(client)
		return
	}
	if err := RunMonitorTUI(client); err != nil {
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		os.Exit(1)
	}
}

// runPlainMonitor prints a queue summary every few seconds until interrupted.
func runPlainMonitor(client *Client) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		list, err := client.Tasks()
		if err != nil {
			fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		} else {
			counts := make(map[string]int)
			for _, t := range list.Tasks {
				counts[string(t.Status)]++
			}
			line := fmt.Sprintf("%s  tracked=%d", time.Now().Format("15:04:05"), list.Count)
			for status, n := range counts {
				line += fmt.Sprintf("  %s=%d", status, n)
			}
			if list.Paused {
				line += "  [paused]"
			}
			fmt.Println(line)
		}

		select {
		case <-sigChan:
			return
		case <-ticker.C:
		}
	}
}

func formatDisplay(name, artist string) string {
	if name == "" {
		return "(untitled)"
	}
	if artist == "" {
		return name
	}
	return name + " - " + artist
}
