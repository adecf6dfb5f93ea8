// Package session implements the per-connection SOCKS5 state machine:
// greeting, authentication, command dispatch, and entry into the relay
// stage.
package session

import (
	"context"
	"errors"
	"log"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/SametHaymana/Proxier/internal/relay"
	"github.com/SametHaymana/Proxier/internal/socks5"
)

// Policy is the subset of a listener instance's state a session needs
// to consult on the data path. internal/listener.Instance implements
// this; defining it here (rather than importing internal/listener)
// keeps session free of a dependency on the listener package.
type Policy interface {
	SelectAuthMethod(offered []socks5.AuthMethod) socks5.AuthMethod
	CheckCredentials(name, password string) bool
	IsBlocked(ip net.IP) bool
	HasBandwidth() bool
	BandwidthCounter() *uint64
	Resolver() socks5.Resolver
}

// handshakeTimeout bounds everything before the relay stage: greeting,
// auth, request, and command handling (the dial, and a BIND's wait for
// its inbound peer up to the second reply). The deadline is cleared on
// entry to the relay stage, which has no timeout (closure is driven by
// the peers, per spec §4.2).
const handshakeTimeout = 10 * time.Second

// session holds the state for one accepted connection through its
// entire greet -> authenticate -> command -> relay lifecycle.
type session struct {
	conn   net.Conn
	policy Policy
	logger *log.Logger
}

// Handle runs one session to completion, closing conn before returning.
func Handle(conn net.Conn, policy Policy, logger *log.Logger) {
	defer conn.Close()

	s := &session{conn: conn, policy: policy, logger: logger}
	s.run()
}

func (s *session) run() {
	s.conn.SetDeadline(time.Now().Add(handshakeTimeout))

	method, ok := s.greet()
	if !ok {
		return
	}

	if method == socks5.AuthUsernamePassword {
		if !s.authenticate() {
			return
		}
	}

	req, err := socks5.DecodeRequest(s.conn)
	if err != nil {
		s.replyAndClose(socks5.RepGeneralFailure, socks5.Address{})
		return
	}

	switch req.Cmd {
	case socks5.CmdConnect:
		s.handleConnect(req)
	case socks5.CmdBind:
		s.handleBind(req)
	case socks5.CmdUDPAssociate:
		s.replyAndClose(socks5.RepCommandNotSupported, socks5.Address{})
	}
}

// greet performs method negotiation. Returns the selected method and
// whether negotiation succeeded (false means the connection should
// close: the greeting was malformed, the reply write failed, or
// NOT_ACCEPTABLE was sent).
func (s *session) greet() (socks5.AuthMethod, bool) {
	g, err := socks5.DecodeGreeting(s.conn)
	if err != nil {
		return 0, false
	}

	method := s.policy.SelectAuthMethod(g.Methods)
	if _, err := s.conn.Write(socks5.EncodeMethodSelection(method)); err != nil {
		return 0, false
	}
	if method == socks5.AuthNotAcceptable {
		return method, false
	}
	return method, true
}

// authenticate runs the RFC 1929 username/password sub-negotiation.
// Returns false (after sending the failure reply) on any mismatch.
func (s *session) authenticate() bool {
	req, err := socks5.DecodeAuthRequest(s.conn)
	if err != nil {
		return false
	}

	ok := s.policy.CheckCredentials(req.Username, req.Password)
	if _, err := s.conn.Write(socks5.EncodeAuthReply(ok)); err != nil {
		return false
	}
	return ok
}

// replyAndClose sends a command reply frame. The caller is responsible
// for closing the connection afterwards (Handle's defer does this).
func (s *session) replyAndClose(code socks5.ReplyCode, addr socks5.Address) {
	buf, err := socks5.EncodeReply(socks5.Reply{Code: code, Addr: addr})
	if err != nil {
		return
	}
	s.conn.Write(buf)
}

func (s *session) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// classifyDialError translates an OS dial error to the closest SOCKS5
// reply code, the same errors.Is-on-syscall-errno idiom the teacher's
// proxy.go uses.
func classifyDialError(err error) socks5.ReplyCode {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return socks5.RepConnectionRefused
	case errors.Is(err, syscall.ENETUNREACH):
		return socks5.RepNetworkUnreachable
	case errors.Is(err, syscall.EHOSTUNREACH):
		return socks5.RepHostUnreachable
	default:
		return socks5.RepGeneralFailure
	}
}

func (s *session) handleConnect(req socks5.Request) {
	ip, err := socks5.ResolveIP(context.Background(), s.policy.Resolver(), req.Addr)
	if err != nil {
		s.replyAndClose(socks5.RepGeneralFailure, socks5.Address{})
		return
	}

	if s.policy.IsBlocked(ip) {
		s.replyAndClose(socks5.RepConnectionNotAllowed, socks5.Address{})
		return
	}

	if !s.policy.HasBandwidth() {
		s.replyAndClose(socks5.RepGeneralFailure, socks5.Address{})
		return
	}

	target := net.JoinHostPort(ip.String(), strconv.Itoa(int(req.Addr.Port)))
	dialer := net.Dialer{
		Timeout: 15 * time.Second,
		Control: setSocketOptions,
	}

	remote, err := dialer.Dial("tcp", target)
	if err != nil {
		s.logf("connect %s: dial failed: %v", target, err)
		s.replyAndClose(classifyDialError(err), socks5.Address{})
		return
	}
	defer remote.Close()

	buf, err := socks5.EncodeReply(socks5.Reply{Code: socks5.RepSucceeded, Addr: req.Addr})
	if err != nil {
		return
	}
	if _, err := s.conn.Write(buf); err != nil {
		return
	}

	s.enterRelay(remote)
}

// handleBind opens a listening socket, replies once with its local
// address, waits for exactly one inbound connection, replies a second
// time with the peer's address, then relays. Per spec §9 the reply
// address type is fixed to IPv4 regardless of the peer's actual family.
func (s *session) handleBind(req socks5.Request) {
	if !s.policy.HasBandwidth() {
		s.replyAndClose(socks5.RepGeneralFailure, socks5.Address{})
		return
	}

	ln, err := net.Listen("tcp4", "0.0.0.0:0")
	if err != nil {
		s.logf("bind: failed to open ephemeral listener: %v", err)
		s.replyAndClose(socks5.RepGeneralFailure, socks5.Address{})
		return
	}
	defer ln.Close()

	boundAddr := ln.Addr().(*net.TCPAddr)
	firstReply, err := socks5.EncodeReply(socks5.Reply{
		Code: socks5.RepSucceeded,
		Addr: socks5.Address{Type: socks5.AddrIPv4, IP: boundAddr.IP.To4(), Port: uint16(boundAddr.Port)},
	})
	if err != nil {
		return
	}
	if _, err := s.conn.Write(firstReply); err != nil {
		return
	}

	peer, err := ln.Accept()
	if err != nil {
		s.replyAndClose(socks5.RepGeneralFailure, socks5.Address{})
		return
	}
	defer peer.Close()

	peerAddr, ok := peer.RemoteAddr().(*net.TCPAddr)
	replyAddr := socks5.Address{Type: socks5.AddrIPv4, IP: net.IPv4zero, Port: 0}
	if ok {
		replyAddr = socks5.Address{Type: socks5.AddrIPv4, IP: peerAddr.IP.To4(), Port: uint16(peerAddr.Port)}
	}

	secondReply, err := socks5.EncodeReply(socks5.Reply{Code: socks5.RepSucceeded, Addr: replyAddr})
	if err != nil {
		return
	}
	if _, err := s.conn.Write(secondReply); err != nil {
		return
	}

	s.enterRelay(peer)
}

func (s *session) enterRelay(remote net.Conn) {
	s.conn.SetDeadline(time.Time{})
	remote.SetDeadline(time.Time{})
	relay.Run(s.conn, remote, s.policy.BandwidthCounter())
}
