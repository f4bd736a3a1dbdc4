// biogui - biosignal acquisition tool
// This program streams binary packets from biosignal acquisition devices
// over serial, TCP or BLE transports, decodes them into physical units
// and records or rebroadcasts the resulting signals.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Mere226/biogui/internal/catalog"
	"github.com/Mere226/biogui/internal/config"
	"github.com/Mere226/biogui/internal/device"
	"github.com/Mere226/biogui/internal/recorder"
	"github.com/Mere226/biogui/internal/server"
	"github.com/Mere226/biogui/internal/session"
	"github.com/Mere226/biogui/internal/transport"
	"github.com/Mere226/biogui/internal/version"
)

// Command line flag variables
var (
	cfgFile       string            // Configuration file path
	iface         string            // Device interface name
	deviceOptions map[string]string // Interface-specific options (e.g. gain=4)
	transportType string            // Transport type: serial, tcp, or ble
	serialPort    string            // Serial port device path
	baudRate      int               // Serial baud rate
	tcpPort       int               // TCP listening port
	bleAddress    string            // BLE peripheral address
	bleName       string            // BLE advertised name
	duration      string            // Acquisition duration (e.g., "60s", "0s" = until interrupted)
	output        string            // Output directory for recordings
	sessionID     string            // Session identifier
	record        bool              // Write recordings to disk
	serve         bool              // Enable the live streaming server
	listenAddr    string            // Streaming server listen address
	verbose       bool              // Enable verbose logging
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "biogui",
	Short:   "Biosignal acquisition and streaming tool",
	Version: version.GetFullVersion(),
	Long: `biogui streams fixed-size binary packets from biosignal acquisition
devices (EMG, ECG, PPG front ends) over serial, TCP or BLE, decodes them
into physical units and records them to disk or rebroadcasts them over
websockets.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runStream(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

// init initializes the CLI flags and configuration
func init() {
	// Initialize configuration when cobra starts
	cobra.OnInitialize(initConfig)

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "./config.yaml", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Device selection
	rootCmd.Flags().StringVarP(&iface, "interface", "i", "esp32", "device interface (biogap, esp32, gapwatch)")
	rootCmd.Flags().StringToStringVar(&deviceOptions, "option", nil, "interface option as key=value (e.g. gain=4)")

	// Transport configuration
	rootCmd.Flags().StringVarP(&transportType, "transport", "t", "serial", "transport type: serial, tcp, or ble")
	rootCmd.Flags().StringVarP(&serialPort, "port", "p", "/dev/ttyUSB0", "serial port (for serial transport)")
	rootCmd.Flags().IntVar(&baudRate, "baud-rate", 230400, "serial baud rate (for serial transport)")
	rootCmd.Flags().IntVar(&tcpPort, "tcp-port", 3333, "listening port the device connects to (for tcp transport)")
	rootCmd.Flags().StringVar(&bleAddress, "ble-address", "", "BLE peripheral address (for ble transport)")
	rootCmd.Flags().StringVar(&bleName, "ble-name", "", "BLE advertised name (for ble transport)")

	// Acquisition options
	rootCmd.Flags().StringVarP(&duration, "duration", "d", "0s", "acquisition duration (0s = until interrupted)")
	rootCmd.Flags().StringVarP(&output, "output", "o", "./data", "output directory")
	rootCmd.Flags().StringVar(&sessionID, "session-id", "", "session identifier (default: derived from interface and start time)")
	rootCmd.Flags().BoolVar(&record, "record", true, "write recordings to disk (true|false)")

	// Live streaming server
	rootCmd.Flags().BoolVar(&serve, "serve", false, "enable the websocket streaming server")
	rootCmd.Flags().StringVar(&listenAddr, "listen", ":8081", "streaming server listen address")

	// Bind command line flags to viper configuration keys
	viper.BindPFlag("device.interface", rootCmd.Flags().Lookup("interface"))
	viper.BindPFlag("device.options", rootCmd.Flags().Lookup("option"))
	viper.BindPFlag("transport.type", rootCmd.Flags().Lookup("transport"))
	viper.BindPFlag("transport.serial.port", rootCmd.Flags().Lookup("port"))
	viper.BindPFlag("transport.serial.baud_rate", rootCmd.Flags().Lookup("baud-rate"))
	viper.BindPFlag("transport.tcp.port", rootCmd.Flags().Lookup("tcp-port"))
	viper.BindPFlag("transport.ble.address", rootCmd.Flags().Lookup("ble-address"))
	viper.BindPFlag("transport.ble.name", rootCmd.Flags().Lookup("ble-name"))
	viper.BindPFlag("streaming.duration", rootCmd.Flags().Lookup("duration"))
	viper.BindPFlag("streaming.output_dir", rootCmd.Flags().Lookup("output"))
	viper.BindPFlag("streaming.session_id", rootCmd.Flags().Lookup("session-id"))
	viper.BindPFlag("streaming.record", rootCmd.Flags().Lookup("record"))
	viper.BindPFlag("server.enabled", rootCmd.Flags().Lookup("serve"))
	viper.BindPFlag("server.listen_addr", rootCmd.Flags().Lookup("listen"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config.yaml in current directory
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	// Read in environment variables that match
	viper.AutomaticEnv()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// newLogger builds the application logger from the configured level
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
}

// buildTransport constructs the configured byte-stream transport
func buildTransport(cfg *config.Config) (transport.Transport, error) {
	switch cfg.Transport.Type {
	case "serial":
		return transport.NewSerial(cfg.Transport.Serial.Port, cfg.Transport.Serial.BaudRate), nil
	case "tcp":
		return transport.NewTCP(cfg.Transport.TCP.Port), nil
	case "ble":
		return transport.NewBLE(transport.BLEConfig{
			Address:               cfg.Transport.BLE.Address,
			Name:                  cfg.Transport.BLE.Name,
			Service:               cfg.Transport.BLE.Service,
			DataCharacteristic:    cfg.Transport.BLE.DataCharacteristic,
			ControlCharacteristic: cfg.Transport.BLE.ControlCharacteristic,
			ScanTimeout:           cfg.Transport.BLE.ScanTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("invalid transport type: %s", cfg.Transport.Type)
	}
}

// runStream is the main application logic
func runStream() error {
	// Load default configuration
	cfg := config.DefaultConfig()

	// Override with values from config file and command line flags
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Parse duration string into time.Duration
	durationParsed, err := time.ParseDuration(viper.GetString("streaming.duration"))
	if err != nil {
		return fmt.Errorf("invalid duration format: %w", err)
	}
	cfg.Streaming.Duration = durationParsed

	if err := cfg.Validate(); err != nil {
		return err
	}

	log := newLogger(cfg)

	// Resolve the device protocol from the registry
	proto, err := device.Build(cfg.Device.Interface, cfg.Device.Options)
	if err != nil {
		return fmt.Errorf("failed to build device protocol: %w", err)
	}

	tr, err := buildTransport(cfg)
	if err != nil {
		return err
	}

	start := time.Now()
	id := cfg.Streaming.SessionID
	if id == "" {
		id = fmt.Sprintf("%s-%s", proto.Name, start.Format("20060102-150405"))
	}

	// Display startup information
	fmt.Printf("biogui starting...\n")
	fmt.Printf("Interface: %s (%d byte packets)\n", proto.Name, proto.PacketSize)
	fmt.Printf("Transport: %s\n", tr)
	fmt.Printf("Session: %s\n", id)
	if cfg.Streaming.Duration > 0 {
		fmt.Printf("Duration: %v\n", cfg.Streaming.Duration)
	} else {
		fmt.Printf("Duration: until interrupted (Ctrl+C)\n")
	}

	// Assemble the packet sinks
	var sinks []session.Sink

	var rec *recorder.Recorder
	if cfg.Streaming.Record {
		rec, err = recorder.NewRecorder(cfg.Streaming.OutputDir, cfg.Streaming.FilePrefix,
			id, proto.Name, proto.Signals, start)
		if err != nil {
			return fmt.Errorf("failed to create recorder: %w", err)
		}
		defer rec.Close()
		sinks = append(sinks, rec)
		fmt.Printf("Output: %s\n", cfg.Streaming.OutputDir)
	}

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(cfg.Server.ListenAddr, log)
		srv.Start()
		defer srv.Close()
		sinks = append(sinks, srv)
		fmt.Printf("Streaming: ws://%s/stream\n", cfg.Server.ListenAddr)
	}

	sess, err := session.New(proto, tr, sinks, log)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Handle interrupt signals in a separate goroutine
	go func() {
		<-sigChan
		fmt.Printf("\nReceived interrupt signal, shutting down...\n")
		sess.Stop()
	}()

	ctx := context.Background()
	if cfg.Streaming.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Streaming.Duration)
		defer cancel()
	}

	runErr := sess.Run(ctx)
	end := time.Now()

	// Flush recordings before indexing them
	var files []string
	if rec != nil {
		if err := rec.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to finalize recordings")
		}
		files = rec.Paths()
	}

	// Index the session; a catalog failure must not mask an acquisition error
	if cat, err := catalog.Open(cfg.Catalog.Path); err != nil {
		log.Warn().Err(err).Msg("failed to open session catalog")
	} else {
		err := cat.Put(catalog.SessionRecord{
			ID:          id,
			Interface:   proto.Name,
			Transport:   tr.String(),
			Start:       start,
			End:         end,
			PacketCount: sess.PacketCount(),
			Files:       files,
		})
		if err != nil {
			log.Warn().Err(err).Msg("failed to index session")
		}
		cat.Close()
	}

	if runErr != nil {
		return fmt.Errorf("acquisition failed: %w", runErr)
	}

	fmt.Printf("Acquisition completed: %d packets in %v\n", sess.PacketCount(), end.Sub(start).Round(time.Millisecond))
	return nil
}

// main is the entry point of the application
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
