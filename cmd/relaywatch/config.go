package main

import (
	"errors"
	"fmt"
	"time"

	flags "github.com/jessevdk/go-flags"
)

// config defines the configuration options for relaywatch.
//
// See loadConfig for details on the parsing.
type config struct {
	ControlAddr string        `short:"c" long:"control" description:"Control socket address of the monitored relay" default:"127.0.0.1:9051"`
	Password    string        `long:"password" description:"Control port password"`
	CookieFile  string        `long:"cookie" description:"Path to the control auth cookie file"`
	PID         int           `long:"pid" description:"Relay process ID (discovered via the control port when omitted)"`
	Interval    time.Duration `short:"i" long:"interval" description:"Connection refresh interval" default:"1s"`
	Once        bool          `long:"once" description:"Print one classified snapshot and exit"`
	LogFile     string        `long:"logfile" description:"Write logs to this file (rotated)"`
	DebugLevel  string        `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}" default:"info"`
}

// loadConfig initializes and parses the config using command line options.
func loadConfig() (*config, error) {
	cfg := config{}
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, err
		}
		return nil, fmt.Errorf("parse options: %w", err)
	}

	if !validLogLevel(cfg.DebugLevel) {
		return nil, fmt.Errorf("invalid debuglevel %q", cfg.DebugLevel)
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	return &cfg, nil
}
