package smtpsrv

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"blitiri.com.ar/go/correo/internal/auth"
	"blitiri.com.ar/go/correo/internal/maildrop"
)

// testConn wires up a Conn over a net.Pipe and runs Handle in the
// background, returning the client-side end and the mailbox Handle
// will drop accepted messages into.
func testConn(t *testing.T) (net.Conn, *maildrop.Mailbox) {
	t.Helper()

	client, server := net.Pipe()
	mailbox := maildrop.New(10)

	c := &Conn{
		hostname:    "mx.example.com",
		mode:        ModeSMTP,
		maxDataSize: 1 << 20,
		connTimeout: 5 * time.Second,
		cmdTimeout:  5 * time.Second,
		authr:       auth.NewAuthenticator(),
		mailbox:     mailbox,
		mechanisms:  []string{"PLAIN"},
		conn:        server,
	}

	go c.Handle()

	t.Cleanup(func() { client.Close() })

	return client, mailbox
}

func sendAndExpect(t *testing.T, r *bufio.Reader, w net.Conn, cmd, wantPrefix string) string {
	t.Helper()

	if cmd != "" {
		if _, err := w.Write([]byte(cmd + "\r\n")); err != nil {
			t.Fatalf("write(%q): %v", cmd, err)
		}
	}

	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read after %q: %v", cmd, err)
	}
	// Consume any additional lines of a multiline response.
	for strings.HasPrefix(line, wantPrefix[:3]+"-") {
		line, err = r.ReadString('\n')
		if err != nil {
			t.Fatalf("read continuation after %q: %v", cmd, err)
		}
	}
	if !strings.HasPrefix(line, wantPrefix) {
		t.Fatalf("after %q: got %q, want prefix %q", cmd, line, wantPrefix)
	}
	return line
}

func TestFullExchange(t *testing.T) {
	client, mailbox := testConn(t)
	r := bufio.NewReader(client)

	sendAndExpect(t, r, client, "", "220 ")
	sendAndExpect(t, r, client, "EHLO client.example.com", "250 ")
	sendAndExpect(t, r, client, "MAIL FROM:<alice@example.com>", "250 ")
	sendAndExpect(t, r, client, "RCPT TO:<bob@example.com>", "250 ")
	sendAndExpect(t, r, client, "DATA", "354 ")
	sendAndExpect(t, r, client, "Subject: hi\r\n\r\nhello there\r\n.", "250 ")
	sendAndExpect(t, r, client, "QUIT", "221 ")

	if mailbox.Len() != 1 {
		t.Fatalf("mailbox.Len() = %d, want 1", mailbox.Len())
	}

	msgs := mailbox.All()
	if msgs[0].ReversePath != "alice@example.com" {
		t.Errorf("ReversePath = %q, want alice@example.com", msgs[0].ReversePath)
	}
	if len(msgs[0].ForwardPaths) != 1 || msgs[0].ForwardPaths[0] != "bob@example.com" {
		t.Errorf("ForwardPaths = %v, want [bob@example.com]", msgs[0].ForwardPaths)
	}
	if !strings.Contains(string(msgs[0].Data), "hello there") {
		t.Errorf("Data = %q, missing body", msgs[0].Data)
	}
	if !strings.Contains(string(msgs[0].Data), "Received:") {
		t.Errorf("Data = %q, missing Received header", msgs[0].Data)
	}
}

func TestRejectsBadCommandSequence(t *testing.T) {
	client, _ := testConn(t)
	r := bufio.NewReader(client)

	sendAndExpect(t, r, client, "", "220 ")
	sendAndExpect(t, r, client, "RCPT TO:<bob@example.com>", "503 ")
}

func TestSubmissionRequiresAuth(t *testing.T) {
	client, server := net.Pipe()
	mailbox := maildrop.New(10)

	c := &Conn{
		hostname:    "mx.example.com",
		mode:        ModeSubmission,
		maxDataSize: 1 << 20,
		connTimeout: 5 * time.Second,
		cmdTimeout:  5 * time.Second,
		authr:       auth.NewAuthenticator(),
		mailbox:     mailbox,
		mechanisms:  []string{"PLAIN"},
		conn:        server,
	}
	go c.Handle()
	t.Cleanup(func() { client.Close() })

	r := bufio.NewReader(client)
	sendAndExpect(t, r, client, "", "220 ")
	sendAndExpect(t, r, client, "EHLO client.example.com", "250 ")
	sendAndExpect(t, r, client, "MAIL FROM:<alice@example.com>", "530 ")
}
