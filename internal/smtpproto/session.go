package smtpproto

// Config collects what Build uses to construct a Session: the
// connecting peer's address, the configured auth mechanisms, whether
// STARTTLS is offered at all, and the embedding's Capabilities
// implementation.
type Config struct {
	// ServerName is not read by Build and is not stored in the Session;
	// Greeting takes the name to announce as its own argument.
	ServerName string
	RemoteIP   string

	// Mechanisms lists the configured auth mechanism names in
	// advertisement order. Only "PLAIN" is recognized; an empty list
	// disables AUTH for the life of the connection.
	Mechanisms []string

	// StartTLSSupported reports whether the embedding is prepared to
	// perform a TLS handshake on ActionUpgradeTLS. false makes tls_posture
	// permanently "unavailable" and STARTTLS/AUTH PLAIN unreachable.
	StartTLSSupported bool

	Capabilities Capabilities
}

// Session is the facade a connection-handling goroutine drives: it owns
// exactly one Machine and routes each input unit (a parsed command
// line, a DATA body line, or a continuation-response line) to the right
// entry point so the embedding never has to know which parser applies.
type Session struct {
	machine *Machine
	dead    bool
}

// Build constructs a Session in the Idle state, ready for Greeting
// followed by a stream of Process calls.
func Build(cfg Config) *Session {
	caps := cfg.Capabilities
	if caps == nil {
		caps = DefaultCapabilities{}
	}
	return &Session{
		machine: NewMachine(cfg.RemoteIP, caps, cfg.Mechanisms, cfg.StartTLSSupported),
	}
}

// Greeting returns the 220 banner a caller should write before reading
// the first command line. It does not change session state.
func (s *Session) Greeting(serverName string) Response {
	return respGreeting(serverName)
}

// Process consumes one input line and returns the Response to send (if
// any — check IsEmpty). The caller is responsible for framing lines
// (splitting on CRLF) and, in the Data state, for passing body lines
// through unmodified (including any leading dot).
//
// Once a Response with Action() == ActionClose has been returned,
// Process must not be called again; doing so returns a 421 rather than
// touching a terminated Machine.
func (s *Session) Process(line []byte) Response {
	if s.dead {
		return respInternalError
	}

	var resp Response
	if s.machine.State() == StateData {
		resp = s.machine.ApplyDataLine(line)
	} else if s.machine.State() == StateAuth {
		data := ParseContinuationLine(line)
		resp = s.machine.Apply(Command{Kind: CmdAuthContinuation, AuthData: data})
	} else {
		cmd, errResp, ok := ParseCommand(line)
		if !ok {
			return errResp
		}
		resp = s.machine.Apply(cmd)
	}

	if resp.Action() == ActionClose {
		s.dead = true
	}
	return resp
}

// TLSActiveSignal reports that a TLS handshake triggered by a prior
// ActionUpgradeTLS response has completed. The embedding must call this
// exactly once, immediately after the handshake succeeds, before
// reading the next line.
func (s *Session) TLSActiveSignal() Response {
	return s.machine.SetTLSActive()
}

// State exposes the underlying Machine's state, mostly useful to tests
// and to embeddings that want to log transitions.
func (s *Session) State() StateName { return s.machine.State() }

// TLS exposes the underlying Machine's TLS posture.
func (s *Session) TLS() TLSPosture { return s.machine.TLS() }

// Auth exposes the underlying Machine's auth posture.
func (s *Session) Auth() AuthPosture { return s.machine.Auth() }

// Envelope exposes the underlying Machine's accumulated envelope.
func (s *Session) Envelope() (Envelope, bool) { return s.machine.Envelope() }
