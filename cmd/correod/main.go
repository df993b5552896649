// correod is an SMTP mail submission server.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	docopt "github.com/docopt/docopt-go"

	"blitiri.com.ar/go/log"
	"blitiri.com.ar/go/systemd"

	"blitiri.com.ar/go/correo/internal/auth"
	"blitiri.com.ar/go/correo/internal/config"
	"blitiri.com.ar/go/correo/internal/metrics"
	"blitiri.com.ar/go/correo/internal/smtpsrv"
	"blitiri.com.ar/go/correo/internal/userdb"

	// To enable live profiling on the monitoring server.
	_ "net/http/pprof"
)

const usage = `correod: an SMTP mail submission server.

Usage:
  correod [--config=<path>] [--hostname=<name>]
  correod -h | --help

Options:
  -h --help             Show this help.
  --config=<path>       Path to the configuration file. [default: /etc/correod/correod.yaml]
  --hostname=<name>     Override the configured greeting hostname.
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], "correod")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	configPath, err := opts.String("--config")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log.Init()
	log.Infof("correod starting")

	conf, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	if hostname, err := opts.String("--hostname"); err == nil && hostname != "" {
		conf.Hostname = hostname
	}
	config.LogConfig(conf)

	s := smtpsrv.NewServer()
	s.Hostname = conf.Hostname
	s.MaxDataSize = conf.MaxDataSizeMB * 1024 * 1024
	s.Mechanisms = conf.AuthMechanisms

	if connTimeout, err := conf.ConnTimeoutDuration(); err == nil {
		s.ConnTimeout = connTimeout
	}
	if cmdTimeout, err := conf.CommandTimeoutDuration(); err == nil {
		s.CommandTimeout = cmdTimeout
	}

	if conf.CertFile != "" && conf.KeyFile != "" {
		if err := s.AddCerts(conf.CertFile, conf.KeyFile); err != nil {
			log.Fatalf("error loading certificates: %v", err)
		}
	}

	for domain, path := range conf.DomainUserDBs {
		n, err := s.AddUserDB(domain, path)
		if err != nil {
			log.Errorf("error loading userdb %q for %q: %v", path, domain, err)
			continue
		}
		log.Infof("loaded %d users for %q from %q", n, domain, path)
	}

	if conf.UserDBPath != "" {
		db, err := userdb.Load(conf.UserDBPath)
		if err != nil {
			log.Errorf("error loading fallback userdb %q: %v", conf.UserDBPath, err)
		}
		log.Infof("loaded %d users into fallback userdb %q", db.Len(), conf.UserDBPath)
		s.SetAuthFallback(auth.WrapNoErrorBackend(db))
	}

	systemdLs, err := systemd.Listeners()
	if err != nil {
		log.Fatalf("error getting systemd listeners: %v", err)
	}

	naddr := addListeners(s, conf.SMTPAddr, systemdLs["smtp"], smtpsrv.ModeSMTP)
	naddr += addListeners(s, conf.SubmissionAddr, systemdLs["submission"], smtpsrv.ModeSubmission)
	naddr += addListeners(s, conf.SubmissionOverTLSAddr, systemdLs["submission_tls"], smtpsrv.ModeSubmissionTLS)

	if naddr == 0 {
		log.Fatalf("no addresses or listeners to serve on")
	}

	if conf.MonitoringAddr != "" {
		go launchMonitoringServer(conf.MonitoringAddr)
	}

	go signalHandler(s)

	log.Fatalf("%v", s.ListenAndServe())
}

func addListeners(s *smtpsrv.Server, addrs []string, ls []net.Listener, mode smtpsrv.SocketMode) int {
	n := 0
	for _, addr := range addrs {
		if addr == "systemd" {
			s.AddListeners(ls, mode)
			n += len(ls)
			continue
		}
		s.AddAddr(addr, mode)
		n++
	}
	return n
}

func launchMonitoringServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.Infof("monitoring server listening on %s", addr)
	log.Errorf("monitoring server exited: %v", http.ListenAndServe(addr, mux))
}

func signalHandler(s *smtpsrv.Server) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGHUP)
	for range sigc {
		log.Infof("got SIGHUP, reloading")
		if err := s.Reload(); err != nil {
			log.Errorf("error reloading: %v", err)
		}
	}
}
