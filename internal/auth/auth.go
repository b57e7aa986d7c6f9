// Package auth answers the engine's authorization questions from a static role policy.
package auth

import (
	"context"
	"fmt"
	"path"
	"sort"

	"go.uber.org/zap"

	"github.com/ChimfwembeMLF/tekrem-erp-sub005/agile"
)

// Policy maps callers to roles and roles to the actions they may perform.
// Action patterns use path.Match syntax, so "card.*" covers every card mutation.
type Policy struct {
	// AllowAnonymous lets callers without an identity act with DefaultRole.
	AllowAnonymous bool `yaml:"allow_anonymous"`
	// DefaultRole applies to callers not listed in Users.
	DefaultRole string              `yaml:"default_role"`
	Roles       map[string][]string `yaml:"roles"`
	Users       map[string]string   `yaml:"users,omitempty"`
}

// DefaultPolicy allows every caller, anonymous or not, to do everything.
func DefaultPolicy() Policy {
	return Policy{
		AllowAnonymous: true,
		DefaultRole:    "member",
		Roles: map[string][]string{
			"admin":  {"*"},
			"member": {"*"},
			"viewer": {},
		},
	}
}

// Validate checks that every referenced role exists and every pattern parses.
func (p Policy) Validate() error {
	if _, ok := p.Roles[p.DefaultRole]; !ok {
		return fmt.Errorf("default role %q is not defined", p.DefaultRole)
	}
	users := make([]string, 0, len(p.Users))
	for u := range p.Users {
		users = append(users, u)
	}
	sort.Strings(users)
	for _, u := range users {
		if _, ok := p.Roles[p.Users[u]]; !ok {
			return fmt.Errorf("user %q has undefined role %q", u, p.Users[u])
		}
	}
	for role, patterns := range p.Roles {
		for _, pat := range patterns {
			if _, err := path.Match(pat, ""); err != nil {
				return fmt.Errorf("role %q: bad action pattern %q: %w", role, pat, err)
			}
		}
	}
	return nil
}

// Authorizer implements agile.Authorizer over a Policy.
type Authorizer struct {
	policy Policy
	log    *zap.Logger
}

var _ agile.Authorizer = (*Authorizer)(nil)

// New validates p and returns an authorizer for it.
func New(p Policy, log *zap.Logger) (*Authorizer, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid auth policy: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Authorizer{policy: p, log: log.Named("auth")}, nil
}

// Authorize implements agile.Authorizer.
func (a *Authorizer) Authorize(_ context.Context, actor string, action agile.Action, resourceID string) (bool, error) {
	if actor == "" && !a.policy.AllowAnonymous {
		a.log.Debug("Denied anonymous caller", zap.String("action", string(action)))
		return false, nil
	}

	role := a.RoleOf(actor)
	allowed := a.allows(role, action)
	if !allowed {
		a.log.Debug("Denied",
			zap.String("actor", actor),
			zap.String("role", role),
			zap.String("action", string(action)),
			zap.String("resource_id", resourceID))
	}
	return allowed, nil
}

// RoleOf returns the role the policy assigns to actor.
func (a *Authorizer) RoleOf(actor string) string {
	if role, ok := a.policy.Users[actor]; ok && actor != "" {
		return role
	}
	return a.policy.DefaultRole
}

func (a *Authorizer) allows(role string, action agile.Action) bool {
	for _, pat := range a.policy.Roles[role] {
		// Patterns were checked by Validate.
		if ok, _ := path.Match(pat, string(action)); ok {
			return true
		}
	}
	return false
}
