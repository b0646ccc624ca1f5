// Package session implements the per-connection SOCKS5 state machine:
// negotiate the method, read and authorize the CONNECT request, dial
// upstream, and hand off to the relay. Grounded on the teacher's
// socks.handle.handler (socks/tcp.go) and socks.Server.acceptConnLoop
// (socks/server.go), generalized to the Allow/Deny filter and explicit
// reply-code mapping of §4.4.
package session

import (
	"errors"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/gatekeeperd/gatekeeper/internal/connector"
	"github.com/gatekeeperd/gatekeeper/internal/logging"
	"github.com/gatekeeperd/gatekeeper/internal/relay"
	"github.com/gatekeeperd/gatekeeper/internal/rule"
	"github.com/gatekeeperd/gatekeeper/internal/socks5"
)

// State names the session's position in the negotiation state machine
// described in §4.4.
type State int

const (
	GreetingAwait State = iota
	MethodChosen
	RequestAwait
	Authorizing
	Dialing
	Relaying
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case GreetingAwait:
		return "greeting_await"
	case MethodChosen:
		return "method_chosen"
	case RequestAwait:
		return "request_await"
	case Authorizing:
		return "authorizing"
	case Dialing:
		return "dialing"
	case Relaying:
		return "relaying"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// errBestEffortReplyDeadline bounds how long the session will wait to write
// a best-effort failure reply before giving up and closing, per §4.4.
const errBestEffortReplyDeadline = 2 * time.Second

// Session is a single accepted connection's SOCKS5 negotiation and relay
// lifecycle. Sessions are not reused; construct a fresh one per accepted
// socket.
type Session struct {
	ID          string
	client      net.Conn
	peerAddr    net.Addr
	rules       *rule.Set
	connector   connector.Connector
	log         *logging.ZeroLogger
	createdAt   time.Time
	relayBuffer int

	state State
}

// New constructs a Session over an accepted client socket.
func New(client net.Conn, rules *rule.Set, conn connector.Connector, log *logging.ZeroLogger, relayBuffer int) *Session {
	id := uuid.NewString()
	return &Session{
		ID:          id,
		client:      client,
		peerAddr:    client.RemoteAddr(),
		rules:       rules,
		connector:   conn,
		log:         log.With("session", id),
		createdAt:   time.Now(),
		relayBuffer: relayBuffer,
		state:       GreetingAwait,
	}
}

// outcome records what negotiateAndDial decided, so Run can fold it into
// the single closing audit line regardless of which branch terminated the
// session.
type outcome struct {
	destination string
	verdict     string
	replyCode   byte
}

// unresolved describes a session that never reached a rule-engine verdict
// (no acceptable method, unsupported command, or a protocol or I/O error
// during negotiation).
func unresolved(destination string, replyCode byte) outcome {
	if destination == "" {
		destination = "-"
	}
	return outcome{destination: destination, verdict: "-", replyCode: replyCode}
}

// Run drives the session to completion: negotiate, authorize, dial, relay.
// It always closes the client socket (and the upstream socket, if one was
// opened) before returning, satisfying the no-FD-leak invariant of §8. A
// single structured INFO line is emitted when the session ends, carrying
// the session id, peer address, destination, verdict, reply code, and the
// bytes relayed in each direction (0/0 when the session never reached
// Relaying).
func (s *Session) Run() {
	defer s.client.Close()

	upstream, oc, err := s.negotiateAndDial()
	if err != nil {
		s.failBestEffort(err)
		s.logClosed(unresolved("-", socks5.RepGeneralFailure), 0, 0)
		return
	}
	if upstream == nil {
		s.logClosed(oc, 0, 0)
		return
	}
	defer upstream.Close()

	s.state = Relaying
	sent, received, relayErr := relay.Run(s.client, upstream, s.relayBuffer)
	if relayErr != nil {
		s.log.Debugf("relay ended: %v", relayErr)
	}
	s.state = Closed
	s.logClosed(oc, sent, received)
}

// negotiateAndDial runs GreetingAwait through Dialing. A nil upstream
// means the session terminated cleanly without ever reaching Relaying (no
// acceptable method, unsupported command, filter deny, or dial failure) —
// in every such case the appropriate reply has already been written and oc
// describes the outcome for the closing audit line.
func (s *Session) negotiateAndDial() (net.Conn, outcome, error) {
	sel, err := socks5.ReadMethodSelection(s.client)
	if err != nil {
		return nil, outcome{}, err
	}
	s.state = MethodChosen

	if !sel.Accepts(socks5.MethodNoAuth) {
		_ = socks5.WriteMethodSelectionReply(s.client, socks5.MethodNoAcceptable)
		return nil, unresolved("-", socks5.MethodNoAcceptable), nil
	}
	if err := socks5.WriteMethodSelectionReply(s.client, socks5.MethodNoAuth); err != nil {
		return nil, outcome{}, err
	}

	s.state = RequestAwait
	req, cmd, err := socks5.ReadRequest(s.client)
	if err != nil {
		return nil, outcome{}, err
	}

	if cmd != socks5.CmdConnect {
		_ = socks5.WriteReply(s.client, socks5.RepCommandNotSupported, socks5.Address{}, 0)
		return nil, unresolved(req.String(), socks5.RepCommandNotSupported), nil
	}

	s.state = Authorizing
	verdict := s.rules.Decide(req)
	if verdict != rule.Allow {
		_ = socks5.WriteReply(s.client, socks5.RepConnectionNotAllowed, socks5.Address{}, 0)
		return nil, outcome{destination: req.String(), verdict: verdict.String(), replyCode: socks5.RepConnectionNotAllowed}, nil
	}

	s.state = Dialing
	upstream, local, err := s.connector.Connect(req)
	if err != nil {
		var cerr *connector.Error
		reply := socks5.RepGeneralFailure
		if errors.As(err, &cerr) {
			reply = cerr.Reply
		}
		s.log.Debugf("dial %s failed: %v", req, err)
		_ = socks5.WriteReply(s.client, reply, socks5.Address{}, 0)
		return nil, outcome{destination: req.String(), verdict: verdict.String(), replyCode: reply}, nil
	}

	bnd := socks5.Address{}
	var bndPort uint16
	if tcpAddr, ok := local.(*net.TCPAddr); ok {
		bnd = socks5.NewIPAddress(tcpAddr.IP)
		bndPort = uint16(tcpAddr.Port)
	}
	if err := socks5.WriteReply(s.client, socks5.RepSucceeded, bnd, bndPort); err != nil {
		upstream.Close()
		return nil, outcome{}, err
	}

	return upstream, outcome{destination: req.String(), verdict: verdict.String(), replyCode: socks5.RepSucceeded}, nil
}

// failBestEffort writes a single best-effort 0x01 reply when negotiation
// failed with a protocol or I/O error before any reply had been sent, per
// §4.4's "from any non-Closed state" clause. It never blocks longer than
// errBestEffortReplyDeadline.
func (s *Session) failBestEffort(err error) {
	s.state = Closing
	s.log.Debugf("session error: %v", err)
	if setter, ok := s.client.(interface{ SetWriteDeadline(time.Time) error }); ok {
		_ = setter.SetWriteDeadline(time.Now().Add(errBestEffortReplyDeadline))
	}
	_ = socks5.WriteReply(s.client, socks5.RepGeneralFailure, socks5.Address{}, 0)
}

// logClosed emits the one consolidated audit line a terminated session
// produces, per SPEC_FULL.md's structured per-session audit log line.
func (s *Session) logClosed(oc outcome, sent, received int64) {
	s.log.Infof("session closed peer=%s destination=%s verdict=%s reply=0x%02x sent=%d received=%d",
		s.peerAddr, oc.destination, oc.verdict, oc.replyCode, sent, received)
}
