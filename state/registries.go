package state

import (
	"bytes"
	"sort"
	"strings"

	"kusdcore/crypto"
)

// Role names understood by the authorization oracle.
const (
	RoleAdmin   = "ROLE_ADMIN"
	RoleManager = "ROLE_MANAGER"
	RolePauser  = "ROLE_PAUSER"
)

// PauseRegistry tracks which modules are halted. It satisfies the native
// modules' pause view and persists inside the state snapshot.
type PauseRegistry struct {
	paused map[string]bool
}

func NewPauseRegistry() *PauseRegistry {
	return &PauseRegistry{paused: make(map[string]bool)}
}

func (r *PauseRegistry) IsPaused(module string) bool {
	return r.paused[strings.TrimSpace(module)]
}

func (r *PauseRegistry) Pause(module string) {
	trimmed := strings.TrimSpace(module)
	if trimmed == "" {
		return
	}
	r.paused[trimmed] = true
}

func (r *PauseRegistry) Resume(module string) {
	delete(r.paused, strings.TrimSpace(module))
}

// Snapshot returns the paused module names in sorted order.
func (r *PauseRegistry) Snapshot() []string {
	out := make([]string, 0, len(r.paused))
	for module := range r.paused {
		out = append(out, module)
	}
	sort.Strings(out)
	return out
}

// Restore replaces the paused set.
func (r *PauseRegistry) Restore(modules []string) {
	r.paused = make(map[string]bool, len(modules))
	for _, module := range modules {
		trimmed := strings.TrimSpace(module)
		if trimmed != "" {
			r.paused[trimmed] = true
		}
	}
}

// RoleRegistry maps role names to member addresses. It satisfies the stable
// engine's authorization oracle.
type RoleRegistry struct {
	members map[string]map[crypto.Address]bool
}

func NewRoleRegistry() *RoleRegistry {
	return &RoleRegistry{members: make(map[string]map[crypto.Address]bool)}
}

func (r *RoleRegistry) Grant(role string, addr crypto.Address) {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" || addr.IsZero() {
		return
	}
	byRole, ok := r.members[trimmed]
	if !ok {
		byRole = make(map[crypto.Address]bool)
		r.members[trimmed] = byRole
	}
	byRole[addr] = true
}

func (r *RoleRegistry) Revoke(role string, addr crypto.Address) {
	if byRole, ok := r.members[strings.TrimSpace(role)]; ok {
		delete(byRole, addr)
	}
}

func (r *RoleRegistry) HasRole(role string, addr crypto.Address) bool {
	byRole, ok := r.members[strings.TrimSpace(role)]
	return ok && byRole[addr]
}

func (r *RoleRegistry) IsAdmin(addr crypto.Address) bool   { return r.HasRole(RoleAdmin, addr) }
func (r *RoleRegistry) IsManager(addr crypto.Address) bool { return r.HasRole(RoleManager, addr) }
func (r *RoleRegistry) IsPauser(addr crypto.Address) bool  { return r.HasRole(RolePauser, addr) }

// Members returns the addresses holding role in byte order.
func (r *RoleRegistry) Members(role string) []crypto.Address {
	byRole := r.members[strings.TrimSpace(role)]
	out := make([]crypto.Address, 0, len(byRole))
	for addr := range byRole {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// RoleExport is one role row in a snapshot.
type RoleExport struct {
	Role    string
	Members []crypto.Address
}

// Export returns all roles sorted by name with members in byte order.
func (r *RoleRegistry) Export() []RoleExport {
	roles := make([]string, 0, len(r.members))
	for role := range r.members {
		if len(r.members[role]) > 0 {
			roles = append(roles, role)
		}
	}
	sort.Strings(roles)
	out := make([]RoleExport, 0, len(roles))
	for _, role := range roles {
		out = append(out, RoleExport{Role: role, Members: r.Members(role)})
	}
	return out
}

// Restore replaces the role assignments.
func (r *RoleRegistry) Restore(roles []RoleExport) {
	r.members = make(map[string]map[crypto.Address]bool, len(roles))
	for _, row := range roles {
		for _, addr := range row.Members {
			r.Grant(row.Role, addr)
		}
	}
}

// PolicyRegistry holds the deposit allow/deny lists. With the allowlist
// disabled every address passes IsAllowed; the denylist always binds. It
// satisfies the stable engine's account policy.
type PolicyRegistry struct {
	allowlistEnabled bool
	allowed          map[crypto.Address]bool
	denied           map[crypto.Address]bool
}

func NewPolicyRegistry() *PolicyRegistry {
	return &PolicyRegistry{
		allowed: make(map[crypto.Address]bool),
		denied:  make(map[crypto.Address]bool),
	}
}

func (p *PolicyRegistry) SetAllowlistEnabled(enabled bool) { p.allowlistEnabled = enabled }

func (p *PolicyRegistry) AllowlistEnabled() bool { return p.allowlistEnabled }

func (p *PolicyRegistry) Allow(addr crypto.Address)    { p.allowed[addr] = true }
func (p *PolicyRegistry) Disallow(addr crypto.Address) { delete(p.allowed, addr) }
func (p *PolicyRegistry) Forbid(addr crypto.Address)   { p.denied[addr] = true }
func (p *PolicyRegistry) Unforbid(addr crypto.Address) { delete(p.denied, addr) }

func (p *PolicyRegistry) IsAllowed(addr crypto.Address) bool {
	if !p.allowlistEnabled {
		return true
	}
	return p.allowed[addr]
}

func (p *PolicyRegistry) IsForbidden(addr crypto.Address) bool {
	return p.denied[addr]
}

// PolicyExport is the portable form of the policy lists.
type PolicyExport struct {
	AllowlistEnabled bool
	Allowed          []crypto.Address
	Denied           []crypto.Address
}

func sortedAddrs(set map[crypto.Address]bool) []crypto.Address {
	out := make([]crypto.Address, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

func (p *PolicyRegistry) Export() PolicyExport {
	return PolicyExport{
		AllowlistEnabled: p.allowlistEnabled,
		Allowed:          sortedAddrs(p.allowed),
		Denied:           sortedAddrs(p.denied),
	}
}

func (p *PolicyRegistry) Restore(export PolicyExport) {
	p.allowlistEnabled = export.AllowlistEnabled
	p.allowed = make(map[crypto.Address]bool, len(export.Allowed))
	for _, addr := range export.Allowed {
		p.allowed[addr] = true
	}
	p.denied = make(map[crypto.Address]bool, len(export.Denied))
	for _, addr := range export.Denied {
		p.denied[addr] = true
	}
}
