// Command upnpctl starts a ControlPoint, runs discovery on the LAN,
// and prints every device it finds, the same kind of thin wiring
// cmd/sonos_cast.go does for navidrome's SonosCast service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/navidrome/upnpcp/internal/config"
	"github.com/navidrome/upnpcp/internal/controlpoint"
	"github.com/navidrome/upnpcp/internal/log"
	"github.com/navidrome/upnpcp/internal/model"
)

var (
	logLevel     string
	searchTarget string
	searchOnly   bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upnpctl",
		Short: "Discover and inspect UPnP devices on the local network",
		Long: `upnpctl starts a UPnP control point, listens for SSDP
advertisements and search responses, fetches each device's description,
and prints what it finds. Press Ctrl-C to stop.`,
		RunE: runDiscover,
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&searchTarget, "search-target", "ssdp:all", "search target sent in the initial M-SEARCH")
	cmd.Flags().BoolVar(&searchOnly, "search-only", false, "send one M-SEARCH burst and exit after the search timeout instead of running until interrupted")
	config.AddFlags(cmd.Flags())
	return cmd
}

func runDiscover(cmd *cobra.Command, args []string) error {
	if err := log.SetLevel(logLevel); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load(cmd.Flags())

	cp, err := controlpoint.New(cfg, nil)
	if err != nil {
		return fmt.Errorf("upnpctl: %w", err)
	}
	if err := cp.Initialize(ctx); err != nil {
		return fmt.Errorf("upnpctl: initialize: %w", err)
	}
	if err := cp.Start(); err != nil {
		return fmt.Errorf("upnpctl: start: %w", err)
	}

	cp.AddDiscoveryListener(&printingListener{})

	if err := cp.Search(searchTarget); err != nil {
		log.Warn(ctx, "upnpctl: initial search failed", err)
	}

	if searchOnly {
		select {
		case <-ctx.Done():
		case <-time.After(cfg.SearchTimeout):
		}
	} else {
		<-ctx.Done()
	}

	fmt.Fprintln(os.Stderr, "upnpctl: shutting down")
	return cp.Stop()
}

// printingListener prints a one-line summary for every device
// discovered or lost, in the shape of the sonos_cast discovery log
// lines it's grounded on.
type printingListener struct{}

func (printingListener) OnDiscover(dev *model.Device) {
	fmt.Printf("+ %-45s %-30s %s\n", dev.UDN, dev.FriendlyName, dev.DeviceType)
	for _, svc := range dev.Services {
		fmt.Printf("    service %s (%d actions)\n", svc.ServiceType, len(svc.Actions()))
	}
}

func (printingListener) OnLost(dev *model.Device) {
	fmt.Printf("- %-45s %s\n", dev.UDN, dev.FriendlyName)
}
