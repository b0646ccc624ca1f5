// Command gatekeeperd runs the Gatekeeper SOCKS5 proxy: it parses flags
// and environment variables, loads the rule file, binds the listener, and
// blocks until SIGINT or SIGTERM triggers a graceful shutdown. Grounded on
// the original gatekeeper binary's structopt-plus-signal_hook main, adapted
// to Go's flag.FlagSet plus github.com/peterbourgon/ff/v2 for the
// environment-variable overlay the original also supported.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v2"

	"github.com/gatekeeperd/gatekeeper/internal/config"
	"github.com/gatekeeperd/gatekeeper/internal/connector"
	"github.com/gatekeeperd/gatekeeper/internal/logging"
	"github.com/gatekeeperd/gatekeeper/internal/proxy"
	"github.com/gatekeeperd/gatekeeper/internal/resolver"
	"github.com/gatekeeperd/gatekeeper/internal/rule"
)

const shutdownGrace = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "gatekeeperd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("gatekeeperd", flag.ContinueOnError)
	host := fs.String("host", config.DefaultBindAddr, "address to bind")
	port := fs.Uint("port", config.DefaultBindPort, "port to bind")
	rulePath := fs.String("rule", "", "path to a YAML rule file (default: allow everything)")
	geoDBPath := fs.String("geoip-db", "", "path to a GeoIP2 country database, required by geo_country rules")
	dialTimeout := fs.Duration("dial-timeout", config.DefaultDialTimeout, "upstream dial timeout")
	relayBufferSize := fs.Int("relay-buffer-size", config.DefaultRelayBufferSize, "relay buffer size in bytes")
	logLevel := fs.String("log-level", "info", "log level: debug, info, error")
	checkRules := fs.Bool("check-rules", false, "validate the rule file, print the result, and exit without binding a socket")
	dnsServers := fs.String("dns-server", "", "comma-separated host[:port] list of recursive DNS servers to resolve domain destinations against (default: the OS resolver)")
	dnsCacheTTL := fs.Duration("dns-cache-ttl", resolver.DefaultCacheTTL, "how long a resolved answer is cached when --dns-server is set")

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("GATEKEEPER")); err != nil {
		return err
	}

	log := logging.NewConsole(*logLevel)

	var geoDB *rule.GeoIPDatabase
	if *geoDBPath != "" {
		db, err := rule.OpenGeoIPDatabase(*geoDBPath)
		if err != nil {
			return fmt.Errorf("open geoip database: %w", err)
		}
		defer db.Close()
		geoDB = db
	}

	rules, err := config.LoadRules(*rulePath, geoDB.AsCountryLookup())
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	if *checkRules {
		fmt.Printf("rules ok: %d entries loaded from %q\n", rules.Len(), *rulePath)
		return nil
	}

	bindAddr := net.ParseIP(*host)
	if bindAddr == nil {
		return fmt.Errorf("invalid --host %q", *host)
	}

	var resolve resolver.Resolver = resolver.System{}
	if *dnsServers != "" {
		resolve = resolver.NewRecursive(strings.Split(*dnsServers, ","), *dnsCacheTTL)
	}

	p, err := proxy.New(proxy.Config{
		Addr:        net.JoinHostPort(bindAddr.String(), fmt.Sprint(*port)),
		Rules:       rules,
		Connector:   connector.NewTCPConnector(resolve, *dialTimeout),
		Log:         log,
		RelayBuffer: *relayBufferSize,
	})
	if err != nil {
		return fmt.Errorf("bind listener: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- p.Serve() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case s := <-sig:
		log.Infof("received %s, shutting down", s)
		p.Shutdown(shutdownGrace)
		return nil
	}
}
