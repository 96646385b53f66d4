// Command ariakeeper retrofits accessibility annotations onto a running
// single-page app.
//
// Usage:
//
//	ariakeeper -url https://app.example.com     # live session, stock settings
//	ariakeeper -config ariakeeper.yaml          # live session from YAML config
//	ariakeeper -snapshot page.html              # one-shot static scan to stdout
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/ariakeeper/annotate"
	"github.com/hazyhaar/ariakeeper/block"
	"github.com/hazyhaar/ariakeeper/browser"
	"github.com/hazyhaar/ariakeeper/dbopen"
	"github.com/hazyhaar/ariakeeper/dom"
	"github.com/hazyhaar/ariakeeper/enhance"
	"github.com/hazyhaar/ariakeeper/guard"
	"github.com/hazyhaar/ariakeeper/settings"
)

func main() {
	configPath := flag.String("config", "", "path to ariakeeper.yaml config file")
	liveURL := flag.String("url", "", "attach to a single URL with stock settings")
	snapshotPath := flag.String("snapshot", "", "annotate a static HTML file (- for stdin) and print the result")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *liveURL, *snapshotPath); err != nil {
		logger.Error("ariakeeper: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, liveURL, snapshotPath string) error {
	if snapshotPath != "" {
		return runSnapshot(logger, snapshotPath)
	}
	if liveURL != "" {
		return runLive(ctx, logger, fileConfig{URL: liveURL})
	}
	if configPath != "" {
		cfg, err := loadConfigFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return runLive(ctx, logger, cfg)
	}

	fmt.Fprintln(os.Stderr, "usage: ariakeeper -config <file> | -url <url> | -snapshot <file>")
	os.Exit(1)
	return nil
}

// fileConfig is the YAML daemon configuration.
type fileConfig struct {
	URL       string `yaml:"url"`
	RemoteURL string `yaml:"remote_url"`
	Headful   bool   `yaml:"headful"`

	// SettingsFile and SettingsDB select the hot-reloading settings
	// source. At most one; neither means stock settings.
	SettingsFile string `yaml:"settings_file"`
	SettingsDB   string `yaml:"settings_db"`
}

func loadConfigFile(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.URL == "" {
		return cfg, fmt.Errorf("config: url is required")
	}
	if cfg.SettingsFile != "" && cfg.SettingsDB != "" {
		return cfg, fmt.Errorf("config: settings_file and settings_db are mutually exclusive")
	}
	return cfg, nil
}

func runLive(ctx context.Context, logger *slog.Logger, cfg fileConfig) error {
	source, err := buildSource(cfg, logger)
	if err != nil {
		return err
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL: cfg.RemoteURL,
		Headful:   cfg.Headful,
		Logger:    logger,
	})
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Close()

	sess, err := browser.Open(ctx, browser.SessionConfig{
		Manager: mgr,
		URL:     cfg.URL,
		Source:  source,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("ariakeeper: shutting down")
	return sess.Close()
}

func buildSource(cfg fileConfig, logger *slog.Logger) (settings.Source, error) {
	switch {
	case cfg.SettingsFile != "":
		return settings.NewFileSource(cfg.SettingsFile, logger), nil
	case cfg.SettingsDB != "":
		db, err := dbopen.Open(cfg.SettingsDB)
		if err != nil {
			return nil, fmt.Errorf("open settings db: %w", err)
		}
		return settings.NewDBSource(db, logger)
	default:
		return nil, nil
	}
}

// runSnapshot annotates a static HTML document and prints it. No cursor,
// no live regions: just the classifier, annotator, and page enhancements
// applied once.
func runSnapshot(logger *slog.Logger, path string) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	doc, err := dom.ParseString(string(data))
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	set := settings.Default()
	g := guard.InstallGuard(doc, guard.WithLogger(logger))
	defer g.Uninstall()
	bridge := guard.NewBridge(doc)
	classifier := block.NewClassifier(set.ClassPrefix)
	annotator := annotate.New(classifier, bridge, annotate.WithLogger(logger))
	enhancer := enhance.New(set.ClassPrefix, bridge, enhance.WithLogger(logger))

	count := annotator.ScanSubtree(doc.Body(), nil)
	enhancer.Run(doc)
	logger.Info("ariakeeper: snapshot annotated", "blocks", count)

	out, err := doc.Render()
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if _, err := io.WriteString(os.Stdout, out); err != nil {
		return err
	}
	_, err = io.WriteString(os.Stdout, "\n")
	return err
}
