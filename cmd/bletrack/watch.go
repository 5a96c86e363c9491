package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/bletrack/bridge"
	"github.com/srg/bletrack/internal/bleid"
	"github.com/srg/bletrack/internal/config"
	"github.com/srg/bletrack/internal/gatt"
	"github.com/srg/bletrack/internal/observe"
	"github.com/srg/bletrack/internal/provider"
	"github.com/srg/bletrack/internal/provider/goble"
	"github.com/srg/bletrack/internal/provider/sim"
	"github.com/srg/bletrack/internal/registry"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch nearby devices",
	Long: `Continuously discover devices and display their tracked state.

Events from the selected transport are folded into the device registry and
the resulting table is refreshed in place. With --show-changes every change
notification is printed instead of the table.`,
	RunE: runWatch,
}

var (
	watchTransport   string
	watchConfigPath  string
	watchShowChanges bool
)

func init() {
	watchCmd.Flags().StringVarP(&watchTransport, "transport", "t", "sim", "Transport to use (sim, ble)")
	watchCmd.Flags().StringVarP(&watchConfigPath, "config", "c", "", "Path to YAML configuration file")
	watchCmd.Flags().BoolVar(&watchShowChanges, "show-changes", false, "Print change notifications instead of the device table")
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if watchConfigPath != "" {
		cfg, err = config.Load(watchConfigPath)
		if err != nil {
			return err
		}
	}

	cmd.SilenceUsage = true

	prov, err := buildProvider(watchTransport, cfg, logger)
	if err != nil {
		return err
	}

	if err := prov.Init(); err != nil {
		return fmt.Errorf("init provider: %w", err)
	}
	defer func() {
		if err := prov.Close(); err != nil {
			logger.WithField("error", err).Warn("Provider close failed")
		}
	}()

	if err := prov.Start(); err != nil {
		return fmt.Errorf("start provider: %w", err)
	}
	defer func() {
		_ = prov.Stop()
	}()

	reg := registry.New(logger)

	if watchShowChanges {
		reg.Observe(printChange)
	}

	if cfg.MQTT.Broker != "" {
		client, err := bridge.Connect(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		if err != nil {
			return fmt.Errorf("mqtt bridge: %w", err)
		}
		defer client.Disconnect(250)
		b := bridge.New(client, bridge.Options{
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
		}, logger)
		b.AttachTo(reg)
		logger.WithField("broker", cfg.MQTT.Broker).Info("MQTT bridge attached")
	}

	if err := prov.StartDiscovery(); err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(cfg.Poll.Interval.Std())
	defer ticker.Stop()
	refresh := 0

	for {
		select {
		case <-sigCh:
			fmt.Println("\nInterrupted, stopping...")
			_ = prov.StopDiscovery()
			// Drain what the producer already queued before shutting down.
			if _, err := reg.Drain(prov.Events(), 0); err != nil {
				return err
			}
			return nil
		case <-ticker.C:
			if _, err := reg.Drain(prov.Events(), 0); err != nil {
				return err
			}
			refresh++
			if !watchShowChanges && refresh%4 == 0 {
				printDeviceTable(reg)
			}
		}
	}
}

func buildProvider(transport string, cfg *config.Config, logger *logrus.Logger) (provider.Provider, error) {
	switch transport {
	case "sim":
		p := sim.New(logger,
			sim.WithQueueCapacity(cfg.Queue.Capacity),
			sim.WithAdvertiseInterval(cfg.Sim.AdvertiseInterval.Std()),
		)
		addDemoPeripherals(p)
		return p, nil
	case "ble":
		return goble.New(logger, goble.WithQueueCapacity(cfg.Queue.Capacity)), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (must be sim or ble)", transport)
	}
}

// addDemoPeripherals scripts a couple of devices so the sim transport has
// something to advertise.
func addDemoPeripherals(p *sim.Provider) {
	battery := bleid.UUID16(0x180F)
	batteryLevel := bleid.UUID16(0x2A19)
	tx := 4
	p.AddPeripheral(&sim.Peripheral{
		Address:          bleid.MustParseAddress("AA:BB:CC:DD:EE:01"),
		Name:             "Demo Sensor",
		RSSI:             -58,
		TxPower:          &tx,
		ManufacturerData: []byte{0x4C, 0x00, 0x02, 0x15},
		ServiceUUIDs:     []bleid.UUID{battery},
		Services: []gatt.Service{{
			UUID:    battery,
			Primary: true,
			Characteristics: []gatt.Characteristic{{
				UUID:       batteryLevel,
				Properties: gatt.Read | gatt.Notify,
				Value:      []byte{100},
			}},
		}},
	})
	p.AddPeripheral(&sim.Peripheral{
		Address: bleid.MustParseAddress("AA:BB:CC:DD:EE:02"),
		Name:    "Demo Beacon",
		RSSI:    -82,
	})
}

func printChange(ch observe.ObjectChange) {
	if ch.Property != "" {
		fmt.Printf("%s %s (%s)\n", ch.Type, ch.ID, ch.Property)
		return
	}
	fmt.Printf("%s %s\n", ch.Type, ch.ID)
}

func printDeviceTable(reg *registry.Registry) {
	devices := reg.DevicesSortedByLastSeen()

	var out io.Writer = os.Stdout
	useColor := term.IsTerminal(int(os.Stdout.Fd()))
	if useColor {
		clearScreen(out)
	}

	header := fmt.Sprintf("Devices: %d (%d connected)", reg.DeviceCount(), reg.ConnectedDeviceCount())
	if useColor {
		color.New(color.Bold).Fprintln(out, header)
	} else {
		fmt.Fprintln(out, header)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSTATE\tLAST SEEN\tEVENTS")
	fmt.Fprintln(w, strings.Repeat("-", 78))

	for i := range devices {
		d := &devices[i]
		name := d.Name()
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		rssiText := "-"
		if rssi, ok := d.CurrentRSSI(); ok {
			rssiText = fmt.Sprintf("%d dBm", rssi)
		}

		lastSeen := time.Since(d.LastSeen()).Truncate(time.Second)

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s ago\t%d\n",
			name, d.Address(), rssiText, d.ConnectionState(), lastSeen, d.EventCount())
	}
	_ = w.Flush()
}

func clearScreen(w io.Writer) {
	fmt.Fprint(w, "\033[2J\033[H")
}
