package rbac

import (
	"net/http"
	"sort"

	"github.com/platinummonkey/ptbhub/pkg/config"
	"github.com/platinummonkey/ptbhub/pkg/models"
)

// Subject is the view of a principal the engine needs
type Subject interface {
	Role() models.UserRole
	IsPTBAdmin() bool
	Permissions() models.PermissionMap
	AllowedMenus() []string
}

// Access is the default grant for a resource
type Access int

const (
	AccessNone Access = iota
	AccessReadOnly
	AccessCRUD
)

// Decision explains which rule produced an outcome
type Decision struct {
	Allowed bool
	Rule    string
}

// Engine evaluates the permission cascade
type Engine struct {
	aliases         map[string]map[string]struct{}
	defaults        map[string]Access
	universallyRead map[string]struct{}
}

// Option customizes an Engine
type Option func(*Engine)

// WithAlias registers a bidirectional alias between two resource keys
func WithAlias(a, b string) Option {
	return func(e *Engine) {
		e.link(a, b)
	}
}

// WithDefault overrides the default grant of a resource
func WithDefault(resource string, access Access) Option {
	return func(e *Engine) {
		e.defaults[resource] = access
	}
}

// WithOverlay applies the YAML permissions overlay. A nil overlay is ignored.
func WithOverlay(overlay *config.PermissionsOverlay) Option {
	return func(e *Engine) {
		if overlay == nil {
			return
		}
		for key, others := range overlay.Aliases {
			for _, other := range others {
				e.link(key, other)
			}
		}
		for _, r := range overlay.CRUD {
			e.defaults[r] = AccessCRUD
		}
		for _, r := range overlay.ReadOnly {
			e.defaults[r] = AccessReadOnly
		}
	}
}

// NewEngine builds an engine seeded with the built-in alias and default tables
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		aliases:         make(map[string]map[string]struct{}),
		defaults:        make(map[string]Access),
		universallyRead: map[string]struct{}{ResourceRegulations: {}},
	}
	for _, pair := range builtinAliases {
		e.link(pair[0], pair[1])
	}
	for _, r := range defaultCRUD {
		e.defaults[r] = AccessCRUD
	}
	for _, r := range defaultReadOnly {
		e.defaults[r] = AccessReadOnly
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) link(a, b string) {
	if a == b {
		return
	}
	if e.aliases[a] == nil {
		e.aliases[a] = make(map[string]struct{})
	}
	if e.aliases[b] == nil {
		e.aliases[b] = make(map[string]struct{})
	}
	e.aliases[a][b] = struct{}{}
	e.aliases[b][a] = struct{}{}
}

// Keys returns resource followed by its aliases in sorted order
func (e *Engine) Keys(resource string) []string {
	others := make([]string, 0, len(e.aliases[resource]))
	for k := range e.aliases[resource] {
		others = append(others, k)
	}
	sort.Strings(others)
	return append([]string{resource}, others...)
}

// Allowed reports whether s may perform action on resource
func (e *Engine) Allowed(s Subject, resource string, action models.Action) bool {
	return e.Decide(s, resource, action).Allowed
}

// Decide runs the cascade and reports the matching rule
func (e *Engine) Decide(s Subject, resource string, action models.Action) Decision {
	if s == nil {
		return Decision{false, "unauthenticated"}
	}
	if s.Role().Unrestricted() {
		return Decision{true, "role"}
	}
	if resource == "" {
		return Decision{true, "no_resource"}
	}
	if action == models.ActionRead {
		if _, ok := e.universallyRead[resource]; ok {
			return Decision{true, "universal_read"}
		}
	}

	keys := e.Keys(resource)

	if perms := s.Permissions(); len(perms) > 0 {
		for _, key := range keys {
			if allowed, present := perms.Allows(key, action); present {
				return Decision{allowed, "permission_map"}
			}
		}
	}

	if s.IsPTBAdmin() {
		return Decision{true, "ptb_admin"}
	}

	if menus := s.AllowedMenus(); len(menus) > 0 {
		set := make(map[string]struct{}, len(menus))
		for _, m := range menus {
			set[m] = struct{}{}
		}
		for _, key := range keys {
			if _, ok := set[key]; ok {
				return Decision{true, "legacy_whitelist"}
			}
		}
		return Decision{false, "legacy_whitelist"}
	}

	switch e.defaults[resource] {
	case AccessCRUD:
		return Decision{true, "default_crud"}
	case AccessReadOnly:
		return Decision{action == models.ActionRead, "default_read_only"}
	}
	return Decision{false, "default_deny"}
}

// ActionForMethod maps an HTTP method to the CRUD action it requires
func ActionForMethod(method string) models.Action {
	switch method {
	case http.MethodPost:
		return models.ActionCreate
	case http.MethodPut, http.MethodPatch:
		return models.ActionUpdate
	case http.MethodDelete:
		return models.ActionDelete
	default:
		return models.ActionRead
	}
}
