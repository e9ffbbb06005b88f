package integration

import (
	"net/http"
	"testing"

	"github.com/saaskit/backend/internal/domain/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrationAndLogin(t *testing.T) {
	server := NewTestServer(t)
	account := server.Bootstrap("acme", identity.RoleOwner)

	t.Run("duplicate email is rejected", func(t *testing.T) {
		w := server.Do("POST", "/api/v1/auth/register", "", map[string]string{
			"email":    account.Email,
			"password": "another password",
		})
		assert.Equal(t, http.StatusConflict, w.Code)

		envelope := server.Decode(w, nil)
		require.NotNil(t, envelope.Error)
		assert.Equal(t, "ALREADY_EXISTS", envelope.Error.Code)
	})

	t.Run("wrong password is unauthorized", func(t *testing.T) {
		w := server.Do("POST", "/api/v1/auth/login", "", map[string]string{
			"email":       account.Email,
			"password":    "not the password",
			"tenant_slug": "acme",
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown email reads the same as wrong password", func(t *testing.T) {
		w := server.Do("POST", "/api/v1/auth/login", "", map[string]string{
			"email":       "nobody@example.com",
			"password":    "whatever password",
			"tenant_slug": "acme",
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid password without a role is forbidden", func(t *testing.T) {
		w := server.Do("POST", "/api/v1/auth/register", "", map[string]string{
			"email":    "roleless@example.com",
			"password": "a long enough password",
		})
		require.Equal(t, http.StatusCreated, w.Code)

		w = server.Do("POST", "/api/v1/auth/login", "", map[string]string{
			"email":       "roleless@example.com",
			"password":    "a long enough password",
			"tenant_slug": "acme",
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("issued token reaches protected routes", func(t *testing.T) {
		w := server.Do("GET", "/api/v1/tenants/"+account.TenantID, account.Token, nil)
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})
}

func TestCapabilityEnforcement(t *testing.T) {
	server := NewTestServer(t)
	member := server.Bootstrap("globex", identity.RoleMember)
	auditor := server.Bootstrap("initech", identity.RoleAuditor)

	t.Run("member cannot manage tenants", func(t *testing.T) {
		w := server.Do("POST", "/api/v1/tenants", member.Token, map[string]string{
			"name":             "Rogue Tenant",
			"slug":             "rogue",
			"billing_strategy": "usage",
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("member cannot create plans", func(t *testing.T) {
		w := server.Do("POST", "/api/v1/catalog/plans", member.Token, map[string]string{
			"name": "Sneaky", "slug": "sneaky",
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("member can read the catalog", func(t *testing.T) {
		w := server.Do("GET", "/api/v1/catalog/plans", member.Token, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("auditor can list the audit trail but not record usage", func(t *testing.T) {
		w := server.Do("GET", "/api/v1/audit", auditor.Token, nil)
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = server.Do("POST", "/api/v1/usage", auditor.Token, map[string]interface{}{
			"feature": "api_calls", "quantity": "1",
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("anonymous callers get 401 before capability checks", func(t *testing.T) {
		w := server.Do("GET", "/api/v1/audit", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
