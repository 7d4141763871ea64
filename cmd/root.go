package cmd

import (
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/simbench/benches"
	"github.com/inference-sim/simbench/server"
)

var (
	// CLI flags
	useHTTP    bool   // Serve over HTTP instead of a local unix socket
	address    string // Server address, overrides the transport default
	logLevel   string // Log verbosity level, overrides the config file
	configPath string // Optional launcher config file (YAML)
)

const (
	defaultHTTPAddress  = "0.0.0.0:41633"
	defaultLocalAddress = "/tmp/nexo"
)

// benchEntry pairs the display name of a bench with its factory.
type benchEntry struct {
	name  string
	bench server.Bench
}

// benchTable maps CLI tokens to bench factories. It is never mutated.
// Factories are handed to the server by reference; the server calls them
// each time a client starts a simulation.
var benchTable = map[string]benchEntry{
	"coffee":   {name: "Coffee", bench: server.NewBench(benches.CoffeeBench)},
	"coffeert": {name: "CoffeeRT", bench: server.NewBench(benches.RTCoffeeBench)},
	"bench2":   {name: "Bench2", bench: server.NewBench(benches.Bench2)},
}

// lookupBench resolves a bench token, ignoring case.
func lookupBench(token string) (benchEntry, error) {
	entry, ok := benchTable[strings.ToLower(token)]
	if !ok {
		return benchEntry{}, fmt.Errorf("%s bench not recognized.", token)
	}
	return entry, nil
}

// Transports, replaced in tests.
var (
	serveHTTP  = server.Run
	serveLocal = server.RunLocal
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "bench <coffee|coffeert|bench2>",
	Short: "Start a simulation server set up with a test bench",
	Args: cobra.MatchAll(cobra.ExactArgs(1), func(cmd *cobra.Command, args []string) error {
		_, err := lookupBench(args[0])
		return err
	}),
	SilenceUsage: true,
	RunE:         runBench,
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	logrus.SetLevel(level)

	entry, err := lookupBench(args[0])
	if err != nil {
		return err
	}

	transport, addr := "Local", defaultLocalAddress
	if useHTTP {
		transport, addr = "HTTP", defaultHTTPAddress
	}
	if address != "" {
		addr = address
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s server listening at %s\n", transport, entry.name, addr)

	if !useHTTP {
		return serveLocal(entry.bench, addr, cfg.serverOptions()...)
	}
	socketAddr, err := netip.ParseAddrPort(addr)
	if err != nil {
		logrus.Fatalf("Invalid HTTP address %q: %v", addr, err)
	}
	return serveHTTP(entry.bench, socketAddr, cfg.serverOptions()...)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags
func init() {
	rootCmd.Flags().BoolVar(&useHTTP, "http", false, "Start an HTTP server instead of the default local unix server")
	rootCmd.Flags().StringVarP(&address, "address", "a", "", "Set the address of the server (default "+defaultLocalAddress+", or "+defaultHTTPAddress+" with --http)")
	rootCmd.Flags().StringVar(&logLevel, "log", "", "Log level (trace, debug, info, warn, error, fatal, panic); overrides the config file")
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML launcher config file")
}
