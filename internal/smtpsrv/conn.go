package smtpsrv

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"blitiri.com.ar/go/correo/internal/auth"
	"blitiri.com.ar/go/correo/internal/maildrop"
	"blitiri.com.ar/go/correo/internal/metrics"
	"blitiri.com.ar/go/correo/internal/smtpproto"
	"blitiri.com.ar/go/correo/internal/trace"
)

// maxLineLength is the RFC 5321 §4.5.3.1.6 limit on a text line; lines
// longer than this are a protocol violation, not a parser concern (the
// core assumes its input already satisfies this bound, per SPEC_FULL.md
// §12).
const maxLineLength = 1000

// maxConsecutiveErrors closes the connection after this many error
// responses in a row, mirroring chasquid's conn.go defense against
// cross-protocol attacks (RFC 5321 §4.3.2).
const maxConsecutiveErrors = 3

// Conn represents an incoming SMTP connection: the thin I/O loop that
// frames lines off the wire and drives a smtpproto.Session with them.
// All protocol state lives in the Session; Conn only owns the socket,
// the TLS handshake, and the embedding-level policy SPEC_FULL.md §12
// documents as living here rather than in the core.
type Conn struct {
	hostname    string
	mode        SocketMode
	maxDataSize int64
	connTimeout time.Duration
	cmdTimeout  time.Duration
	tlsConfig   *tls.Config

	authr   *auth.Authenticator
	mailbox *maildrop.Mailbox

	mechanisms []string

	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	tr *trace.Trace
}

// Handle implements the main protocol loop: read a line, hand it to the
// Session, write back the Response, and apply embedding-level policy
// (error budget, line length, TLS upgrade) around that core exchange.
func (c *Conn) Handle() {
	defer c.conn.Close()

	c.tr = trace.New("SMTP.Conn", c.conn.RemoteAddr().String())
	defer c.tr.Finish()
	c.tr.Debugf("connected, mode: %s", c.mode)

	c.conn.SetDeadline(time.Now().Add(c.cmdTimeout))

	caps := newSessionCaps(c.tr, c.hostname, c.mode, c.conn.RemoteAddr(),
		c.maxDataSize, c.authr, c.mailbox)

	if tc, ok := c.conn.(*tls.Conn); ok {
		if err := tc.Handshake(); err != nil {
			c.tr.Errorf("error completing TLS handshake: %v", err)
			return
		}
		cstate := tc.ConnectionState()
		caps.onTLS = true
		caps.cipherSuite = cstate.CipherSuite
		caps.tlsVersion = cstate.Version
	}

	sess := smtpproto.Build(smtpproto.Config{
		ServerName:        c.hostname,
		RemoteIP:          remoteIP(c.conn.RemoteAddr()),
		Mechanisms:        c.mechanisms,
		StartTLSSupported: c.tlsConfig != nil && !c.mode.TLS,
		Capabilities:      caps,
	})

	c.reader = bufio.NewReader(c.conn)
	c.writer = bufio.NewWriter(c.conn)

	c.write(sess.Greeting(c.hostname))

	var errCount int
	deadline := time.Now().Add(c.connTimeout)

	for {
		if time.Now().After(deadline) {
			c.tr.Errorf("connection deadline exceeded")
			return
		}
		c.conn.SetDeadline(time.Now().Add(c.cmdTimeout))

		line, err := c.readLine()
		if err != nil {
			if err == io.EOF {
				c.tr.Debugf("client closed the connection")
			} else {
				c.tr.Errorf("error reading: %v", err)
				c.write(smtpproto.Fixed(554, "error reading command: "+err.Error()))
			}
			return
		}

		// Only Idle/Hello/HelloAuth/Mail/Rcpt states parse line as a
		// command; Data (body lines) and Auth (base64 continuation)
		// states consume arbitrary peer-controlled bytes that must never
		// become a metric label.
		isCommandLine := sess.State() != smtpproto.StateData && sess.State() != smtpproto.StateAuth
		if isCommandLine {
			recordCommandVerb(line, caps)
			metrics.CommandCount.WithLabelValues(commandVerb(line)).Inc()
		}

		resp := sess.Process(line)

		if resp.IsEmpty() {
			continue
		}

		metrics.ResponseCodeCount.WithLabelValues(responseCode(resp.Code)).Inc()

		if resp.IsError() {
			errCount++
			if errCount >= maxConsecutiveErrors {
				c.tr.Errorf("too many errors, closing connection")
				c.write(smtpproto.Fixed(421, "4.5.0 Too many errors, bye"))
				metrics.ErrorBudgetClosed.Inc()
				return
			}
		} else {
			errCount = 0
		}

		c.write(resp)

		switch resp.Action() {
		case smtpproto.ActionClose:
			return
		case smtpproto.ActionUpgradeTLS:
			if err := c.upgradeTLS(caps); err != nil {
				c.tr.Errorf("TLS upgrade failed: %v", err)
				return
			}
			sess.TLSActiveSignal()
		}
	}
}

// upgradeTLS performs the server-side TLS handshake triggered by
// ActionUpgradeTLS, replacing the connection's reader/writer with ones
// bound to the now-encrypted stream.
func (c *Conn) upgradeTLS(caps *sessionCaps) error {
	tlsConn := tls.Server(c.conn, c.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		return err
	}

	c.conn = tlsConn
	c.reader = bufio.NewReader(c.conn)
	c.writer = bufio.NewWriter(c.conn)

	cstate := tlsConn.ConnectionState()
	caps.onTLS = true
	caps.cipherSuite = cstate.CipherSuite
	caps.tlsVersion = cstate.Version
	metrics.TLSCount.WithLabelValues("starttls").Inc()

	return nil
}

// readLine reads a single CRLF-terminated (or bare LF, tolerated for
// interop) line, applying the RFC 5321 DoS guard on line length: longer
// lines are drained (to keep the protocol framing intact) and rejected.
func (c *Conn) readLine() ([]byte, error) {
	l, more, err := c.reader.ReadLine()
	if err != nil {
		return nil, err
	}

	if len(l) > maxLineLength || more {
		for more && err == nil {
			_, more, err = c.reader.ReadLine()
		}
		return nil, fmt.Errorf("line too long")
	}

	return l, nil
}

func (c *Conn) write(resp smtpproto.Response) {
	if resp.IsEmpty() {
		return
	}
	c.writer.Write(resp.Serialize())
	c.writer.Flush()
}

func remoteIP(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	return addr.String()
}

// knownVerbs bounds the commandVerb metric label to a fixed set, so a
// peer sending garbage can't mint arbitrary Prometheus label values
// (chasquid's conn.go has the same concern, addressed there by
// truncating unknown commands before logging them).
var knownVerbs = map[string]bool{
	"HELO": true, "EHLO": true, "MAIL": true, "RCPT": true, "DATA": true,
	"RSET": true, "VRFY": true, "NOOP": true, "STARTTLS": true, "QUIT": true,
	"AUTH": true,
}

// commandVerb extracts the verb of a raw command line, for metrics
// labeling; it does not re-implement parsing, just a label extraction.
func commandVerb(line []byte) string {
	s := strings.TrimSpace(string(line))
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		s = s[:i]
	}
	s = strings.ToUpper(s)
	if s == "" || !knownVerbs[s] {
		return "other"
	}
	return s
}

// recordCommandVerb records whether the command line was an EHLO, so the
// Received header synthesized later can say "ESMTP" rather than "SMTP".
func recordCommandVerb(line []byte, caps *sessionCaps) {
	if commandVerb(line) == "EHLO" {
		caps.isESMTP = true
	}
}
