package smtpproto

// Capabilities is the single abstraction the embedding application
// implements to make policy decisions and consume message bytes. One
// instance is bound to exactly one Session (one connection); instances
// are never shared across sessions, so implementations need no internal
// locking on the embedding's own per-session state.
//
// Every method except Data returns a Response; the state machine
// inspects its Response.IsError() to decide whether to advance or hold
// the current protocol state (see Machine's error-branch semantics).
type Capabilities interface {
	// Hello is invoked on both HELO and EHLO, after argument parsing,
	// before the state machine decides whether to transition.
	Hello(remoteIP, domain string) Response

	// Mail is invoked when a MAIL FROM command parses successfully.
	Mail(remoteIP, domain, reversePath string) Response

	// Rcpt is invoked for every RCPT TO command.
	Rcpt(forwardPath string) Response

	// DataStart is invoked once DATA is received and the envelope is
	// complete, before the 354 response is sent.
	DataStart(domain, reversePath string, is8bit bool, forwardPaths []string) Response

	// Data is invoked once per body line (after dot-unstuffing). Unlike
	// the other methods it does not produce a Response directly: an
	// error here causes the engine to emit a 554, while success produces
	// no reply for that line (the peer expects silence until the
	// terminator).
	Data(line []byte) error

	// DataEnd is invoked when the terminating "." line is seen.
	DataEnd() Response

	// AuthPlain is invoked for SASL PLAIN authentication, both when the
	// initial response arrives on the AUTH command line and when it
	// arrives as a continuation line. A response code of exactly 235
	// means authenticated; anything else is treated as a failure,
	// regardless of IsError.
	AuthPlain(authzID, authcID, passwd string) Response
}

// DefaultCapabilities implements Capabilities with the policy spec.md §6
// mandates when an embedding provides no override: accept everything
// (250 OK) except AuthPlain, which defaults to 535 "Invalid credentials"
// since there is no credential store to check against.
//
// Embeddings are expected to embed DefaultCapabilities and override only
// the methods whose policy they care about.
type DefaultCapabilities struct{}

func (DefaultCapabilities) Hello(remoteIP, domain string) Response { return respOK }

func (DefaultCapabilities) Mail(remoteIP, domain, reversePath string) Response { return respOK }

func (DefaultCapabilities) Rcpt(forwardPath string) Response { return respOK }

func (DefaultCapabilities) DataStart(domain, reversePath string, is8bit bool, forwardPaths []string) Response {
	return respOK
}

func (DefaultCapabilities) Data(line []byte) error { return nil }

func (DefaultCapabilities) DataEnd() Response { return respOK }

func (DefaultCapabilities) AuthPlain(authzID, authcID, passwd string) Response {
	return respInvalidCreds
}
