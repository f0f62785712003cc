// Command ddsrecorder subscribes to a DDS domain and records samples plus
// schema/QoS metadata to MCAP and/or SQLite container files.
package main

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/config"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/recorder"
)

// version is stamped at release build time via -ldflags.
var version = "dev"

const (
	exitSuccess = 0
	exitBadArg  = 1
	exitBadConf = 2
	exitMissing = 3
)

type cli struct {
	ConfigPath   string `short:"c" name:"config-path" help:"Path to the recorder YAML configuration file."`
	ReloadTime   int    `short:"r" name:"reload-time" help:"Accepted for CLI-surface compatibility; the configuration file is read once at startup and never reloaded." default:"0"`
	Debug        bool   `short:"d" name:"debug" help:"Enable debug-level logging; overrides --log-verbosity."`
	LogFilter    string `name:"log-filter" help:"Regular expression, checked for validity at startup; it does not filter log output."`
	LogVerbosity string `name:"log-verbosity" help:"One of info, warning, error." enum:"info,warning,error" default:"info"`
	Version      kong.VersionFlag `short:"v" help:"Print version and exit."`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var c cli
	parser, err := kong.New(&c,
		kong.Name("ddsrecorder"),
		kong.Description("Record DDS topics to MCAP/SQLite container files."),
		kong.Vars{"version": version},
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitBadArg
	}

	if _, err := parser.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if isMissingRequiredFlag(err) {
			return exitMissing
		}
		return exitBadArg
	}

	if c.LogFilter != "" {
		if _, err := regexp.Compile(c.LogFilter); err != nil {
			fmt.Fprintln(os.Stderr, "invalid --log-filter:", err)
			return exitBadArg
		}
	}

	cfg, err := config.LoadRecorderConfig(c.ConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitBadConf
	}
	if c.Debug {
		cfg.LogLevel = "debug"
	} else if c.LogVerbosity != "" {
		cfg.LogLevel = c.LogVerbosity
	}
	if c.LogFilter != "" {
		cfg.LogFilter = c.LogFilter
	}

	logger := newLogger(cfg.LogLevel)

	rec, err := recorder.New(cfg, logger, nil)
	if err != nil {
		level.Error(logger).Log("msg", "failed to construct recorder", "err", err)
		return exitBadConf
	}

	if err := rec.Start(); err != nil {
		level.Error(logger).Log("msg", "failed to start recorder", "err", err)
		return exitBadConf
	}
	defer func() {
		if err := rec.Stop(); err != nil {
			level.Error(logger).Log("msg", "failed to stop recorder cleanly", "err", err)
		}
	}()

	level.Info(logger).Log("msg", "ddsrecorder running", "mcap_enabled", cfg.MCAP.Enabled, "sql_enabled", cfg.SQL.Enabled)
	waitForSignal()
	return exitSuccess
}

// isMissingRequiredFlag reports whether a kong parse error is specifically
// the "required flag not set" case, which spec.md §6 maps to exit code 3
// rather than the generic bad-argument exit code 1. kong words that case as
// "missing flags: ...".
func isMissingRequiredFlag(err error) bool {
	msg := err.Error()
	var parseErr *kong.ParseError
	if errors.As(err, &parseErr) {
		msg = parseErr.Error()
	}
	return strings.Contains(msg, "missing flags") || strings.Contains(msg, "required")
}

func newLogger(verbosity string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	var lvl level.Option
	switch verbosity {
	case "warning":
		lvl = level.AllowWarn()
	case "error":
		lvl = level.AllowError()
	case "debug":
		lvl = level.AllowDebug()
	default:
		lvl = level.AllowInfo()
	}
	return level.NewFilter(logger, lvl)
}
