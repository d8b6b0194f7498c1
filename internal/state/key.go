package state

import "strings"

// Namespace is the leading segment of every fully-qualified key.
const Namespace = "jsonstate"

const sep = ":"

// TenantCtx is the isolation scope every key is composed under. Team and
// User are optional; empty means absent.
type TenantCtx struct {
	Env    string `json:"env"`
	Tenant string `json:"tenant"`
	Team   string `json:"team,omitempty"`
	User   string `json:"user,omitempty"`
}

// Scope joins env, tenant and the optional team and user, in that order.
func (t TenantCtx) Scope() string {
	segments := make([]string, 0, 4)
	segments = append(segments, t.Env, t.Tenant)
	if t.Team != "" {
		segments = append(segments, t.Team)
	}
	if t.User != "" {
		segments = append(segments, t.User)
	}
	return strings.Join(segments, sep)
}

// Compose returns the fully-qualified name for (t, prefix, key):
//
//	jsonstate:<env>:<tenant>[:<team>][:<user>]:<prefix>:<key>
//
// Inputs are expected to be colon-free; that is not re-validated here.
func Compose(t TenantCtx, prefix, key string) string {
	return ComposePrefix(t, prefix) + key
}

// ComposePrefix returns the byte prefix shared by every Compose(t, prefix, k).
// It ends with the separator so "flow" never matches keys under "flow2".
func ComposePrefix(t TenantCtx, prefix string) string {
	var b strings.Builder
	b.WriteString(Namespace)
	b.WriteString(sep)
	b.WriteString(t.Scope())
	b.WriteString(sep)
	b.WriteString(prefix)
	b.WriteString(sep)
	return b.String()
}
