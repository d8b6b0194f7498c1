package state

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompose(t *testing.T) {
	tests := []struct {
		name   string
		tenant TenantCtx
		want   string
	}{
		{
			name:   "env and tenant",
			tenant: TenantCtx{Env: "dev", Tenant: "tenant"},
			want:   "jsonstate:dev:tenant:global:flow/abc",
		},
		{
			name:   "with team",
			tenant: TenantCtx{Env: "dev", Tenant: "tenant", Team: "team"},
			want:   "jsonstate:dev:tenant:team:global:flow/abc",
		},
		{
			name:   "with team and user",
			tenant: TenantCtx{Env: "dev", Tenant: "tenant", Team: "team", User: "user"},
			want:   "jsonstate:dev:tenant:team:user:global:flow/abc",
		},
		{
			name:   "user without team",
			tenant: TenantCtx{Env: "dev", Tenant: "tenant", User: "user"},
			want:   "jsonstate:dev:tenant:user:global:flow/abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compose(tt.tenant, "global", "flow/abc")
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Compose(tt.tenant, "global", "flow/abc"), "composition must be deterministic")
		})
	}
}

func TestComposePrefixMatchesEveryKey(t *testing.T) {
	tenant := TenantCtx{Env: "dev", Tenant: "tenant", Team: "team", User: "user"}
	prefix := ComposePrefix(tenant, "global")

	assert.Equal(t, "jsonstate:dev:tenant:team:user:global:", prefix)
	for _, key := range []string{"", "a", "flow/abc", "node/a/b"} {
		assert.True(t, strings.HasPrefix(Compose(tenant, "global", key), prefix), "key %q", key)
	}
}

func TestComposePrefixDoesNotMatchNeighbours(t *testing.T) {
	tenant := TenantCtx{Env: "dev", Tenant: "tenant"}
	prefix := ComposePrefix(tenant, "flow")

	assert.False(t, strings.HasPrefix(Compose(tenant, "flow2", "k"), prefix))
	assert.False(t, strings.HasPrefix(Compose(TenantCtx{Env: "dev", Tenant: "tenant2"}, "flow", "k"), prefix))
	assert.False(t, strings.HasPrefix(Compose(TenantCtx{Env: "dev", Tenant: "tenant", Team: "t"}, "flow", "k"), prefix))
}
