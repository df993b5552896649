package smtpproto

import "strings"

// StateName identifies one of the seven protocol states a Machine can be
// in. It exists mainly so embeddings and tests can observe where a
// session landed without reaching into unexported fields.
type StateName string

const (
	StateIdle      StateName = "Idle"
	StateHello     StateName = "Hello"
	StateHelloAuth StateName = "HelloAuth"
	StateAuth      StateName = "Auth"
	StateMail      StateName = "Mail"
	StateRcpt      StateName = "Rcpt"
	StateData      StateName = "Data"
	stateDone      StateName = "" // after QUIT; Machine.Apply is not called again
)

// TLSPosture mirrors spec.md's tls_posture: whether STARTTLS was ever
// configured, and if so whether it has been negotiated yet.
type TLSPosture int

const (
	TLSUnavailable TLSPosture = iota
	TLSInactive
	TLSActive
)

// AuthPosture mirrors spec.md's auth_posture.
type AuthPosture int

const (
	AuthUnavailable AuthPosture = iota
	AuthRequired
	AuthAuthenticated
)

// Machine is the per-connection protocol state machine: the ~55% of the
// core that owns session state, dispatches parsed Commands to the
// embedding's Capabilities, and computes the next state.
//
// A Machine is built once per connection (see Session, the facade that
// wraps it) and is not safe for concurrent use — exactly one goroutine
// should drive a given connection, per spec.md §5.
type Machine struct {
	remoteIP string
	caps     Capabilities

	mechanisms       []string // e.g. []string{"PLAIN"}
	authPlainAllowed bool

	tlsSupported bool
	tls          TLSPosture
	auth         AuthPosture

	state  StateName
	domain string // remembered HELO/EHLO domain, valid once state != Idle
	env    Envelope
}

// NewMachine builds a Machine in the Idle state for a single connection.
// mechanisms is the configured, ordered list of auth mechanism names
// (only "PLAIN" is recognized); an empty list means auth is
// unavailable for the life of the connection.
func NewMachine(remoteIP string, caps Capabilities, mechanisms []string, startEncryptionSupported bool) *Machine {
	m := &Machine{
		remoteIP:     remoteIP,
		caps:         caps,
		mechanisms:   append([]string(nil), mechanisms...),
		tlsSupported: startEncryptionSupported,
		state:        StateIdle,
	}
	for _, mech := range m.mechanisms {
		if strings.EqualFold(mech, "PLAIN") {
			m.authPlainAllowed = true
		}
	}
	if len(m.mechanisms) == 0 {
		m.auth = AuthUnavailable
	} else {
		m.auth = AuthRequired
	}
	if m.tlsSupported {
		m.tls = TLSInactive
	} else {
		m.tls = TLSUnavailable
	}
	return m
}

// State returns the machine's current protocol state.
func (m *Machine) State() StateName { return m.state }

// TLS returns the machine's current TLS posture.
func (m *Machine) TLS() TLSPosture { return m.tls }

// Auth returns the machine's current auth posture.
func (m *Machine) Auth() AuthPosture { return m.auth }

// Envelope returns the accumulated envelope and whether one is present
// (true in Mail, Rcpt and Data).
func (m *Machine) Envelope() (Envelope, bool) {
	switch m.state {
	case StateMail, StateRcpt, StateData:
		return m.env.clone(), true
	default:
		return Envelope{}, false
	}
}

// SetTLSActive applies the synthetic encryption-became-active signal:
// the embedding calls this once its TLS handshake (triggered by a prior
// STARTTLS response with ActionUpgradeTLS) completes successfully. It
// always succeeds and never produces output.
func (m *Machine) SetTLSActive() Response {
	if m.tlsSupported {
		m.tls = TLSActive
	}
	return Empty()
}

// Apply dispatches a parsed Command against the current state and
// returns the Response to send. It must not be called while State() ==
// StateData; use ApplyDataLine for that state instead.
func (m *Machine) Apply(cmd Command) Response {
	switch m.state {
	case StateIdle:
		return m.applyIdle(cmd)
	case StateHello:
		return m.applyHello(cmd)
	case StateHelloAuth:
		return m.applyHelloAuth(cmd)
	case StateAuth:
		return m.applyAuth(cmd)
	case StateMail:
		return m.applyMail(cmd)
	case StateRcpt:
		return m.applyRcpt(cmd)
	default:
		// StateData (wrong entry point) or stateDone (post-QUIT).
		return respInternalError
	}
}

func (m *Machine) applyIdle(cmd Command) Response {
	switch cmd.Kind {
	case CmdReset:
		return m.reset()
	default:
		return m.defaultHandler(cmd)
	}
}

func (m *Machine) applyHello(cmd Command) Response {
	switch cmd.Kind {
	case CmdMailFrom:
		return m.doMail(cmd)
	case CmdStartTLS:
		if m.tls != TLSInactive {
			return respBadSequence
		}
		return m.doStartTLS()
	case CmdVerify:
		return respMaybe
	case CmdReset:
		return m.reset()
	default:
		return m.defaultHandler(cmd)
	}
}

func (m *Machine) applyHelloAuth(cmd Command) Response {
	switch cmd.Kind {
	case CmdStartTLS:
		if m.tls != TLSInactive {
			return respBadSequence
		}
		return m.doStartTLS()
	case CmdAuthPlainInitial:
		if !m.plainAuthGateOK() {
			return respBadSequence
		}
		return m.doAuthPlainInitial(cmd)
	case CmdAuthPlainEmpty:
		if !m.plainAuthGateOK() {
			return respBadSequence
		}
		m.state = StateAuth
		return respAuthChallenge
	case CmdReset:
		return m.reset()
	default:
		return m.defaultHandler(cmd)
	}
}

func (m *Machine) applyAuth(cmd Command) Response {
	switch cmd.Kind {
	case CmdAuthContinuation:
		authzid, authcid, passwd := splitPlainFields(cmd.AuthData)
		return m.finishAuthPlain(m.caps.AuthPlain(authzid, authcid, passwd))
	default:
		return m.defaultHandler(cmd)
	}
}

func (m *Machine) applyMail(cmd Command) Response {
	switch cmd.Kind {
	case CmdRcptTo:
		return m.doRcptFirst(cmd)
	case CmdReset:
		return m.reset()
	default:
		return m.defaultHandler(cmd)
	}
}

func (m *Machine) applyRcpt(cmd Command) Response {
	switch cmd.Kind {
	case CmdRcptTo:
		return m.doRcptAppend(cmd)
	case CmdBeginData:
		return m.doBeginData()
	case CmdReset:
		return m.reset()
	default:
		return m.defaultHandler(cmd)
	}
}

// defaultHandler implements the behavior common to every state for
// commands the state's own switch doesn't claim: QUIT, HELO and EHLO
// are always accepted; NOOP always replies 250 (our resolution of
// spec.md §9's open question); everything else is a bad sequence.
func (m *Machine) defaultHandler(cmd Command) Response {
	switch cmd.Kind {
	case CmdQuit:
		m.state = stateDone
		return respGoodbye
	case CmdNoop:
		return respOK
	case CmdHello:
		return m.doHello(cmd)
	case CmdHelloExtended:
		return m.doEhlo(cmd)
	default:
		return respBadSequence
	}
}

func (m *Machine) doHello(cmd Command) Response {
	if m.auth != AuthUnavailable {
		return respBadHELO
	}
	resp := m.caps.Hello(m.remoteIP, cmd.Domain)
	if resp.IsError() {
		return resp
	}
	m.domain = cmd.Domain
	m.state = StateHello
	return resp
}

func (m *Machine) doEhlo(cmd Command) Response {
	resp := m.caps.Hello(m.remoteIP, cmd.Domain)
	if resp.IsError() {
		return resp
	}
	m.domain = cmd.Domain
	if resp.Code == 250 {
		resp = m.extensionAd()
	}
	if m.auth == AuthUnavailable {
		m.state = StateHello
	} else {
		m.state = StateHelloAuth
	}
	return resp
}

func (m *Machine) extensionAd() Response {
	tail := []string{"8BITMIME"}
	switch m.tls {
	case TLSInactive:
		tail = append(tail, "STARTTLS")
	case TLSActive:
		for _, mech := range m.mechanisms {
			tail = append(tail, "AUTH "+strings.ToUpper(mech))
		}
	}
	return Dynamic(250, "server offers extensions:", tail)
}

func (m *Machine) reset() Response {
	m.env = Envelope{}
	if m.state == StateIdle {
		return respOK
	}
	if m.auth == AuthUnavailable {
		m.state = StateHello
	} else {
		m.state = StateHelloAuth
	}
	return respOK
}

func (m *Machine) doStartTLS() Response {
	m.state = StateIdle
	return respReadyTLS()
}

func (m *Machine) plainAuthGateOK() bool {
	return m.authPlainAllowed && m.tls == TLSActive
}

func (m *Machine) doAuthPlainInitial(cmd Command) Response {
	return m.finishAuthPlain(m.caps.AuthPlain(cmd.AuthzID, cmd.AuthcID, cmd.Passwd))
}

// finishAuthPlain applies the shared post-callback transition for both
// the with-initial-response and continuation AUTH PLAIN paths: exactly
// code 235 means authenticated.
func (m *Machine) finishAuthPlain(resp Response) Response {
	if resp.Code == 235 {
		m.auth = AuthAuthenticated
		m.state = StateHello
	} else {
		m.auth = AuthRequired
		m.state = StateHelloAuth
	}
	return resp
}

func (m *Machine) doMail(cmd Command) Response {
	resp := m.caps.Mail(m.remoteIP, m.domain, cmd.Path)
	if resp.IsError() {
		return resp
	}
	m.env = Envelope{Domain: m.domain, ReversePath: cmd.Path, Is8Bit: cmd.Is8Bit}
	m.state = StateMail
	return resp
}

func (m *Machine) doRcptFirst(cmd Command) Response {
	resp := m.caps.Rcpt(cmd.Path)
	if resp.IsError() {
		return resp
	}
	m.env.ForwardPaths = []string{cmd.Path}
	m.state = StateRcpt
	return resp
}

func (m *Machine) doRcptAppend(cmd Command) Response {
	resp := m.caps.Rcpt(cmd.Path)
	if resp.IsError() {
		return resp
	}
	m.env.ForwardPaths = append(m.env.ForwardPaths, cmd.Path)
	return resp
}

func (m *Machine) doBeginData() Response {
	resp := m.caps.DataStart(m.env.Domain, m.env.ReversePath, m.env.Is8Bit,
		append([]string(nil), m.env.ForwardPaths...))
	if resp.IsError() {
		return resp
	}
	m.state = StateData
	return respStartMailInput
}

// ApplyDataLine implements the DATA body line framing rule (spec.md
// §4.4). It must only be called while State() == StateData.
func (m *Machine) ApplyDataLine(line []byte) Response {
	if isDotTerminator(line) {
		return m.doEndOfData()
	}
	body := line
	if len(line) > 0 && line[0] == '.' {
		body = line[1:]
	}
	if err := m.caps.Data(body); err != nil {
		return respTransactionFail
	}
	return Empty()
}

func (m *Machine) doEndOfData() Response {
	resp := m.caps.DataEnd()
	if resp.IsError() {
		return resp
	}
	m.env = Envelope{}
	m.state = StateHello
	return respOK
}

func isDotTerminator(line []byte) bool {
	return len(line) == 3 && line[0] == '.' && line[1] == '\r' && line[2] == '\n'
}
