// Package smtpproto implements the per-connection SMTP protocol engine:
// a deterministic state machine driven by parsed command lines, decoupled
// from sockets, TLS handshakes and any particular policy.
//
// The package is organized the way the protocol flows through it:
//
//   - command.go holds the line parser, turning a single CRLF-terminated
//     line into a Command or a parse-failure Response.
//   - response.go holds the Response value and its wire serializer.
//   - envelope.go holds the per-transaction envelope data.
//   - capabilities.go defines the Capabilities interface the embedding
//     application implements to make policy decisions and consume data.
//   - machine.go holds the state machine itself: Machine owns the
//     session's protocol state, advances it one Command at a time, and
//     implements the DATA body line framing rule (ApplyDataLine).
//   - session.go is the facade: Session binds a Machine to a Capabilities
//     implementation and exposes Process, the single entry point an
//     embedding calls once per input line.
//
// Nothing in this package touches net.Conn, bufio, or crypto/tls. The
// embedding owns the socket, reads lines off it, feeds them to
// Session.Process, and writes the returned Response back. See
// internal/smtpsrv for a complete embedding.
package smtpproto
