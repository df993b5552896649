// Package smtpsrv implements correo's SMTP server and connection
// handler: the socket/TLS-owning embedding layer around the pure
// protocol core in internal/smtpproto.
package smtpsrv

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"blitiri.com.ar/go/log"

	"blitiri.com.ar/go/correo/internal/auth"
	"blitiri.com.ar/go/correo/internal/maildrop"
	"blitiri.com.ar/go/correo/internal/userdb"
)

// Server holds everything needed to accept SMTP connections on one or
// more sockets and dispatch them to Conn.Handle.
type Server struct {
	// Hostname used in the greeting and in Received headers.
	Hostname string

	// MaxDataSize bounds the size (in bytes) of a message body.
	MaxDataSize int64

	// Mechanisms lists the AUTH mechanisms to advertise once TLS is
	// active. Only "PLAIN" is meaningful to the core.
	Mechanisms []string

	// ConnTimeout bounds the lifetime of a connection; CommandTimeout
	// bounds how long the server waits for the next command line.
	ConnTimeout    time.Duration
	CommandTimeout time.Duration

	addrs     map[SocketMode][]string
	listeners map[SocketMode][]net.Listener

	tlsConfig *tls.Config

	authr   *auth.Authenticator
	mailbox *maildrop.Mailbox
}

// NewServer returns a new, empty Server.
func NewServer() *Server {
	return &Server{
		addrs:     map[SocketMode][]string{},
		listeners: map[SocketMode][]net.Listener{},

		// Disable session tickets, same workaround chasquid's server.go
		// carries for a Microsoft STARTTLS resumption bug; see
		// https://github.com/golang/go/issues/70232.
		tlsConfig: &tls.Config{
			SessionTicketsDisabled: true,
		},

		ConnTimeout:    20 * time.Minute,
		CommandTimeout: 1 * time.Minute,

		Mechanisms: []string{"PLAIN"},

		authr:   auth.NewAuthenticator(),
		mailbox: maildrop.New(1000),
	}
}

// AddCerts adds a TLS certificate/key pair to the server.
func (s *Server) AddCerts(certPath, keyPath string) error {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return err
	}
	s.tlsConfig.Certificates = append(s.tlsConfig.Certificates, cert)
	return nil
}

// AddAddr adds an address for the server to listen on.
func (s *Server) AddAddr(a string, m SocketMode) {
	s.addrs[m] = append(s.addrs[m], a)
}

// AddListeners adds already-open listeners for the server to serve on
// (e.g. from systemd socket activation).
func (s *Server) AddListeners(ls []net.Listener, m SocketMode) {
	s.listeners[m] = append(s.listeners[m], ls...)
}

// AddUserDB loads a userdb file and registers it as the auth backend
// for domain. Errors are returned rather than fatal, so the caller can
// decide whether a broken userdb should abort startup.
func (s *Server) AddUserDB(domain, path string) (int, error) {
	db, err := userdb.Load(path)
	s.authr.Register(domain, auth.WrapNoErrorBackend(db))
	return db.Len(), err
}

// SetAuthFallback sets the authentication backend to use when no
// domain-specific backend claims a user.
func (s *Server) SetAuthFallback(be auth.Backend) {
	s.authr.Fallback = be
}

// Mailbox returns the in-memory mailbox accepted messages are dropped
// into, for inspection by tests or a debug endpoint.
func (s *Server) Mailbox() *maildrop.Mailbox {
	return s.mailbox
}

// Reload refreshes any backend that can change without the server being
// told directly (auth backends reloaded from disk).
func (s *Server) Reload() error {
	return s.authr.Reload()
}

// ListenAndServe on the addresses and listeners that were previously
// added. This function returns as soon as one listener fails (or an
// address cannot be listened on).
func (s *Server) ListenAndServe() error {
	if len(s.tlsConfig.Certificates) == 0 {
		return fmt.Errorf("at least one TLS certificate is required")
	}

	errc := make(chan error, 1)
	var n int

	for m, addrs := range s.addrs {
		for _, addr := range addrs {
			l, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", addr, err)
			}
			log.Infof("listening on %s (%v)", addr, m)
			n++
			go func(l net.Listener, m SocketMode) {
				errc <- s.serve(l, m)
			}(l, m)
		}
	}

	for m, ls := range s.listeners {
		for _, l := range ls {
			log.Infof("listening on %s (%v, via systemd)", l.Addr(), m)
			n++
			go func(l net.Listener, m SocketMode) {
				errc <- s.serve(l, m)
			}(l, m)
		}
	}

	if n == 0 {
		return fmt.Errorf("no listeners configured")
	}

	// Block until the first listener fails; the caller treats that as
	// fatal, same as chasquid's ListenAndServe.
	return <-errc
}

func (s *Server) serve(l net.Listener, mode SocketMode) error {
	if mode.TLS {
		l = tls.NewListener(l, s.tlsConfig)
	}

	for {
		conn, err := l.Accept()
		if err != nil {
			return fmt.Errorf("accepting on %s: %w", l.Addr(), err)
		}

		sc := &Conn{
			hostname:    s.Hostname,
			mode:        mode,
			maxDataSize: s.MaxDataSize,
			connTimeout: s.ConnTimeout,
			cmdTimeout:  s.CommandTimeout,
			tlsConfig:   s.tlsConfig,
			authr:       s.authr,
			mailbox:     s.mailbox,
			mechanisms:  s.Mechanisms,
			conn:        conn,
		}
		go sc.Handle()
	}
}
