// Package manager implements the proxy manager: a registry that
// creates, names, and configures independent listener instances, and
// dispatches policy operations to the correct one.
package manager

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/SametHaymana/Proxier/internal/listener"
	"github.com/SametHaymana/Proxier/internal/socks5"
	"github.com/SametHaymana/Proxier/internal/user"
)

// Kind selects which proxy protocol a listener speaks.
type Kind int

const (
	KindSOCKS5 Kind = iota
	// KindHTTPConnect is recognized by the type system so the manager's
	// contract doesn't need to change when that variant is implemented,
	// but AddProxy rejects it today — the HTTP-CONNECT proxy is an
	// out-of-scope placeholder (spec §1).
	KindHTTPConnect
)

var (
	ErrPortInUse       = errors.New("manager: port already in use")
	ErrUnsupportedKind = errors.New("manager: unsupported proxy kind")
	ErrProxyNotFound   = errors.New("manager: proxy id not found")
)

// Global is the pseudo-id naming the manager's global, not-yet-bound
// user staging set (spec §3: "a separate global user set exists but is
// not consulted on the data path").
const Global = ""

// Manager is the registry of listener instances. The zero value is not
// usable; construct with New.
type Manager struct {
	mu        sync.RWMutex
	instances map[string]*listener.Instance

	globalMu sync.RWMutex
	global   *user.Set
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{
		instances: make(map[string]*listener.Instance),
		global:    user.NewSet(),
	}
}

// AddProxy creates and starts a new listener instance on port and
// registers it under a freshly generated id. The socket is bound and
// the accept loop is running before AddProxy returns successfully.
func (m *Manager) AddProxy(ctx context.Context, kind Kind, port uint16) (string, error) {
	if kind != KindSOCKS5 {
		return "", ErrUnsupportedKind
	}

	if err := probePortAvailable(port); err != nil {
		return "", fmt.Errorf("%w: port %d", ErrPortInUse, port)
	}

	id := uuid.New()
	inst := listener.New(id, port)
	if err := inst.Start(ctx); err != nil {
		return "", fmt.Errorf("%w: port %d: %v", ErrPortInUse, port, err)
	}

	m.mu.Lock()
	m.instances[id.String()] = inst
	m.mu.Unlock()

	return id.String(), nil
}

// probePortAvailable binds 127.0.0.1:port and immediately releases it.
// This is a TOCTOU check, not a guarantee: the real bind in AddProxy
// (listener.Instance.Start) targets
// 0.0.0.0:port, and another process (or another goroutine racing this
// one) can claim the port between the probe and the real bind. See
// DESIGN.md for why this is accepted as-is rather than fixed.
func probePortAvailable(port uint16) error {
	probe, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return err
	}
	return probe.Close()
}

// Get returns the instance registered under id, if any.
func (m *Manager) Get(id string) (*listener.Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	return inst, ok
}

func (m *Manager) mustGet(id string) (*listener.Instance, error) {
	inst, ok := m.Get(id)
	if !ok {
		return nil, ErrProxyNotFound
	}
	return inst, nil
}

// ListAuthMethods returns the allowed auth methods for the given instance.
func (m *Manager) ListAuthMethods(id string) ([]socks5.AuthMethod, error) {
	inst, err := m.mustGet(id)
	if err != nil {
		return nil, err
	}
	set := inst.AllowedAuthMethods()
	out := make([]socks5.AuthMethod, 0, len(set))
	for method := range set {
		out = append(out, method)
	}
	return out, nil
}

// SetAuthMethod allows method on the given instance.
func (m *Manager) SetAuthMethod(id string, method socks5.AuthMethod) error {
	inst, err := m.mustGet(id)
	if err != nil {
		return err
	}
	inst.SetAllowedAuthMethod(method)
	return nil
}

// RemoveAuthMethod disallows method on the given instance.
func (m *Manager) RemoveAuthMethod(id string, method socks5.AuthMethod) error {
	inst, err := m.mustGet(id)
	if err != nil {
		return err
	}
	inst.RemoveAllowedAuthMethod(method)
	return nil
}

// ListUsers returns the user set for target, which is either an
// instance id or Global for the manager's staging set.
func (m *Manager) ListUsers(target string) ([]user.User, error) {
	if target == Global {
		m.globalMu.RLock()
		defer m.globalMu.RUnlock()
		return m.global.List(), nil
	}
	inst, err := m.mustGet(target)
	if err != nil {
		return nil, err
	}
	return inst.Users(), nil
}

// RegisterUser adds u to target's user set (an instance id, or Global).
func (m *Manager) RegisterUser(target string, u user.User) error {
	if target == Global {
		m.globalMu.Lock()
		defer m.globalMu.Unlock()
		m.global.Add(u)
		return nil
	}
	inst, err := m.mustGet(target)
	if err != nil {
		return err
	}
	inst.AddUser(u)
	return nil
}

// RemoveUser removes the user with the given id from target's user set.
func (m *Manager) RemoveUser(target string, id uuid.UUID) (bool, error) {
	if target == Global {
		m.globalMu.Lock()
		defer m.globalMu.Unlock()
		return m.global.RemoveByID(id), nil
	}
	inst, err := m.mustGet(target)
	if err != nil {
		return false, err
	}
	return inst.RemoveUserByID(id), nil
}

// SetMaxBandwidth sets the total-bytes ceiling on the given instance.
func (m *Manager) SetMaxBandwidth(id string, max uint64) error {
	inst, err := m.mustGet(id)
	if err != nil {
		return err
	}
	inst.SetMaxBandwidth(max)
	return nil
}

// CurrentBandwidth returns bytes relayed so far by the given instance.
func (m *Manager) CurrentBandwidth(id string) (uint64, error) {
	inst, err := m.mustGet(id)
	if err != nil {
		return 0, err
	}
	return inst.CurrentBandwidth(), nil
}

// BlockIP blocks ip on the given instance.
func (m *Manager) BlockIP(id string, ip net.IP) error {
	inst, err := m.mustGet(id)
	if err != nil {
		return err
	}
	return inst.BlockIP(ip)
}

// UnblockIP unblocks ip on the given instance.
func (m *Manager) UnblockIP(id string, ip net.IP) error {
	inst, err := m.mustGet(id)
	if err != nil {
		return err
	}
	inst.UnblockIP(ip)
	return nil
}

// ListBlocked returns the blocked-address set for the given instance.
func (m *Manager) ListBlocked(id string) ([]string, error) {
	inst, err := m.mustGet(id)
	if err != nil {
		return nil, err
	}
	return inst.ListBlocked(), nil
}
