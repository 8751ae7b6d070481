package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/proxycloak/proxycloak/fingerprint"
	"github.com/proxycloak/proxycloak/keylog"
	"github.com/proxycloak/proxycloak/proxy"
)

const version = "1.0.0"

func main() {
	var (
		addr         = flag.String("addr", "127.0.0.1:8080", "proxy listen address")
		certDir      = flag.String("cert-dir", defaultCertDir(), "directory for the CA and issued certificates")
		profileID    = flag.String("profile", fingerprint.DefaultProfileID, "fingerprint profile for fixed rotation")
		rotation     = flag.String("rotation", "fixed", "profile rotation mode: fixed, round-robin, random")
		passthrough  = flag.String("passthrough", "", "comma-separated hosts to tunnel without interception")
		upstream     = flag.String("upstream", "", "upstream SOCKS5 proxy URL (socks5:// or socks5h://)")
		insecure     = flag.Bool("insecure", false, "skip origin certificate verification")
		keylogFile   = flag.String("keylog", "", "write TLS secrets in SSLKEYLOGFILE format")
		idleTimeout  = flag.Duration("session-timeout", 30*time.Minute, "session idle timeout")
		verbose      = flag.Bool("verbose", false, "enable debug logging")
		listProfiles = flag.Bool("list-profiles", false, "list available profiles and exit")
		showVersion  = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("proxycloak %s\n", version)
		return
	}

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if *listProfiles {
		registry := fingerprint.NewDefaultRegistry()
		for _, p := range registry.List() {
			fmt.Printf("%-22s %s %s (%s)\n", p.ID, p.Browser, p.Version, p.Platform)
		}
		return
	}

	if *keylogFile != "" {
		if err := keylog.SetKeyLogFile(*keylogFile); err != nil {
			logrus.WithError(err).Fatal("Failed to open key log file")
		}
		defer keylog.Close()
	}

	config := proxy.Config{
		Addr:               *addr,
		CertDir:            *certDir,
		Profile:            *profileID,
		Rotation:           proxy.RotationMode(*rotation),
		PassthroughHosts:   splitHosts(*passthrough),
		UpstreamProxy:      *upstream,
		InsecureSkipVerify: *insecure,
		SessionTimeout:     *idleTimeout,
	}

	server, err := proxy.New(config)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to start proxy")
	}

	logrus.WithFields(logrus.Fields{
		"version":  version,
		"ca_cert":  server.CACertPath(),
		"profiles": server.Registry().Len(),
		"rotation": *rotation,
	}).Info("Starting proxycloak")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logrus.Info("Shutting down")
		server.Close()
	}()

	if err := server.ListenAndServe(); err != nil {
		logrus.WithError(err).Fatal("Proxy stopped")
	}
}

func defaultCertDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".proxycloak"
	}
	return home + "/.proxycloak"
}

func splitHosts(list string) []string {
	if list == "" {
		return nil
	}
	var hosts []string
	for _, h := range strings.Split(list, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}
