package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	flags "github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"

	"relaywatch/internal/conntrack"
	"relaywatch/internal/hostname"
	"relaywatch/internal/netstat"
	"relaywatch/internal/relay"
	"relaywatch/internal/ui"
)

func main() {
	if err := run(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.LogFile != "" {
		if err := initLogRotator(cfg.LogFile); err != nil {
			return err
		}
		defer logRotator.Close()
	}
	setLogLevels(cfg.DebugLevel)

	ctrl, err := relay.Dial(controlNetwork(cfg.ControlAddr), cfg.ControlAddr)
	if err != nil {
		return fmt.Errorf("connect to control socket %s: %w", cfg.ControlAddr, err)
	}
	defer ctrl.Close()

	if cfg.CookieFile != "" {
		err = ctrl.AuthenticateCookie(cfg.CookieFile)
	} else {
		err = ctrl.Authenticate(cfg.Password)
	}
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	pid := cfg.PID
	if pid == 0 {
		if v, err := ctrl.Info("process/pid"); err == nil {
			pid, _ = strconv.Atoi(v)
		}
	}
	if pid == 0 {
		return errors.New("relay pid unknown; pass --pid")
	}
	mainLog.Infof("Monitoring relay pid %d via %s", pid, cfg.ControlAddr)

	hostnames := hostname.New()
	panel := conntrack.NewPanel(ctrl, &netstat.Source{}, hostnames, pid)

	if cfg.Once {
		if err := panel.Refresh(); err != nil {
			return err
		}
		printSnapshot(panel)
		return nil
	}

	if err := ctrl.Subscribe(); err != nil {
		return fmt.Errorf("subscribe to control events: %w", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		for ev := range ctrl.Events() {
			switch e := ev.(type) {
			case relay.ConsensusEvent:
				panel.OnNewConsensus(e.Entries)
			case relay.DescriptorEvent:
				panel.OnNewDescriptors(e.Fingerprints)
			case relay.CircuitEvent:
				panel.OnCircuitStatus()
			}
		}
		return nil
	})
	g.Go(func() error {
		// Closing the control connection ends the event loop above.
		defer ctrl.Close()
		return ui.Run(&ui.App{
			Panel:     panel,
			Hostnames: hostnames,
			Interval:  cfg.Interval,
		})
	})
	return g.Wait()
}

// printSnapshot emits one machine friendly listing for the one-shot mode.
func printSnapshot(panel *conntrack.Panel) {
	for _, c := range panel.Connections() {
		fp, nick := panel.Identity(c.RemoteAddr, c.RemotePort)
		fmt.Printf("type=%s local=%s:%d remote=%s:%d country=%s fingerprint=%s nickname=%s\n",
			c.Category, c.LocalAddr, c.LocalPort, c.RemoteAddr, c.RemotePort,
			c.Country, fp, nick)
	}
	counts := panel.Counts()
	fmt.Printf("counts inbound=%d outbound=%d client=%d directory=%d control=%d\n",
		counts[conntrack.Inbound], counts[conntrack.Outbound], counts[conntrack.Client],
		counts[conntrack.Directory], counts[conntrack.Control])
}

func controlNetwork(addr string) string {
	if strings.HasPrefix(addr, "/") {
		return "unix"
	}
	return "tcp"
}
