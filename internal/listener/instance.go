// Package listener implements one SOCKS5 listener instance: a bound TCP
// port, its accept loop, and the per-field-locked policy state
// (allowed auth methods, user set, blocked addresses, bandwidth
// ceiling) shared with every session it spawns.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/SametHaymana/Proxier/internal/session"
	"github.com/SametHaymana/Proxier/internal/socks5"
	"github.com/SametHaymana/Proxier/internal/user"
)

// Instance is one listener: one accept loop bound to Port, with its own
// independent policy. The zero value is not usable; construct with New.
type Instance struct {
	ID   uuid.UUID
	Port uint16

	logger *log.Logger

	authMu  sync.RWMutex
	authSet map[socks5.AuthMethod]struct{}

	usersMu sync.RWMutex
	users   *user.Set

	blockedMu sync.RWMutex
	blocked   map[string]struct{}

	maxBandwidth  uint64 // atomic
	bandwidthUsed uint64 // atomic

	ln       net.Listener
	resolver socks5.Resolver

	closeOnce sync.Once
}

// New constructs an Instance for the given port. It does not bind a
// socket; call Start for that.
func New(id uuid.UUID, port uint16) *Instance {
	return &Instance{
		ID:       id,
		Port:     port,
		logger:   log.New(log.Writer(), fmt.Sprintf("[listener:%d] ", port), log.LstdFlags),
		authSet:  make(map[socks5.AuthMethod]struct{}),
		users:    user.NewSet(),
		blocked:  make(map[string]struct{}),
		resolver: net.DefaultResolver,
	}
}

// Start binds 0.0.0.0:Port and, on success, launches the accept loop on
// a background goroutine before returning. Accept errors are logged and
// the loop continues; a closed listener ends the loop silently.
func (in *Instance) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf("0.0.0.0:%d", in.Port))
	if err != nil {
		return fmt.Errorf("listener: bind port %d: %w", in.Port, err)
	}
	in.ln = ln

	go in.acceptLoop()
	return nil
}

// Stop closes the listening socket, ending the accept loop. In-flight
// sessions are not interrupted; they run to their own completion.
func (in *Instance) Stop() error {
	var err error
	in.closeOnce.Do(func() {
		if in.ln != nil {
			err = in.ln.Close()
		}
	})
	return err
}

func (in *Instance) acceptLoop() {
	for {
		conn, err := in.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			in.logger.Printf("accept error: %v", err)
			continue
		}
		go session.Handle(conn, in, in.logger)
	}
}

// --- policy mutators, §4.4 ---

// SetAllowedAuthMethod inserts method into the allowed set (idempotent).
func (in *Instance) SetAllowedAuthMethod(method socks5.AuthMethod) {
	in.authMu.Lock()
	defer in.authMu.Unlock()
	in.authSet[method] = struct{}{}
}

// RemoveAllowedAuthMethod removes method from the allowed set, if present.
func (in *Instance) RemoveAllowedAuthMethod(method socks5.AuthMethod) {
	in.authMu.Lock()
	defer in.authMu.Unlock()
	delete(in.authSet, method)
}

// AllowedAuthMethods returns a snapshot of the currently allowed methods.
func (in *Instance) AllowedAuthMethods() map[socks5.AuthMethod]struct{} {
	in.authMu.RLock()
	defer in.authMu.RUnlock()
	out := make(map[socks5.AuthMethod]struct{}, len(in.authSet))
	for m := range in.authSet {
		out[m] = struct{}{}
	}
	return out
}

// AddUser adds u to the instance's user set.
func (in *Instance) AddUser(u user.User) {
	in.usersMu.Lock()
	defer in.usersMu.Unlock()
	in.users.Add(u)
}

// RemoveUserByID removes the user with the given id, reporting whether
// one was removed.
func (in *Instance) RemoveUserByID(id uuid.UUID) bool {
	in.usersMu.Lock()
	defer in.usersMu.Unlock()
	return in.users.RemoveByID(id)
}

// Users returns a snapshot of the instance's user set.
func (in *Instance) Users() []user.User {
	in.usersMu.RLock()
	defer in.usersMu.RUnlock()
	return in.users.List()
}

// SetMaxBandwidth sets the total-bytes ceiling. 0 disables the relay
// stage entirely (see spec's bandwidth-admission open question).
func (in *Instance) SetMaxBandwidth(v uint64) {
	atomic.StoreUint64(&in.maxBandwidth, v)
}

// MaxBandwidth returns the current ceiling.
func (in *Instance) MaxBandwidth() uint64 {
	return atomic.LoadUint64(&in.maxBandwidth)
}

// CurrentBandwidth returns bytes relayed so far, monotonically
// non-decreasing between observations.
func (in *Instance) CurrentBandwidth() uint64 {
	return atomic.LoadUint64(&in.bandwidthUsed)
}

// HasBandwidth reports whether the instance may admit a new relay
// stage: max_bandwidth > bandwidth_used. When max_bandwidth is 0 this
// is always false — a deliberate fail-closed default (spec §9).
func (in *Instance) HasBandwidth() bool {
	return atomic.LoadUint64(&in.maxBandwidth) > atomic.LoadUint64(&in.bandwidthUsed)
}

// BandwidthCounter exposes the atomic counter for the relay primitive to
// accumulate into directly.
func (in *Instance) BandwidthCounter() *uint64 {
	return &in.bandwidthUsed
}

// --- session.Policy implementation, consulted on the data path ---

// SelectAuthMethod applies the instance's allowed-method set against the
// client's offered methods.
func (in *Instance) SelectAuthMethod(offered []socks5.AuthMethod) socks5.AuthMethod {
	allowed := in.AllowedAuthMethods()
	return socks5.SelectMethod(offered, allowed)
}

// CheckCredentials validates a username/password pair against the
// instance's user set.
func (in *Instance) CheckCredentials(name, password string) bool {
	in.usersMu.RLock()
	defer in.usersMu.RUnlock()
	return in.users.CheckCredentials(name, password)
}

// Resolver returns the resolver sessions should use for DomainName
// targets.
func (in *Instance) Resolver() socks5.Resolver {
	return in.resolver
}
