package identity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/mtliendo/circular-dashboard-design/internal/errors"
	"github.com/mtliendo/circular-dashboard-design/pkg/entitlements"
)

func TestClerkClient_GetOrganization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/organizations/org_42", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("include_members_count"))
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{
			"id": "org_42",
			"name": "Acme",
			"max_allowed_memberships": 10,
			"members_count": 3,
			"public_metadata": {"role_set": "enterprise"},
			"private_metadata": {"plan": "pro"}
		}`)
	}))
	defer srv.Close()

	org, err := NewClerkClient(srv.URL, "sk_test").GetOrganization(context.Background(), "org_42")
	require.NoError(t, err)
	assert.Equal(t, &Organization{
		ID:            "org_42",
		Name:          "Acme",
		Plan:          entitlements.PlanPro,
		RoleSet:       entitlements.RoleSetEnterprise,
		MemberCeiling: 10,
		MembersCount:  3,
	}, org)
}

func TestClerkClient_GetOrganizationWithoutMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"org_1","name":"New","max_allowed_memberships":5}`)
	}))
	defer srv.Close()

	org, err := NewClerkClient(srv.URL, "sk").GetOrganization(context.Background(), "org_1")
	require.NoError(t, err)
	assert.Equal(t, entitlements.PlanFree, org.Plan)
	assert.Equal(t, entitlements.RoleSetDefault, org.RoleSet)
}

func TestClerkClient_UpdateEntitlement(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/organizations/org_42", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"id":"org_42"}`)
	}))
	defer srv.Close()

	err := NewClerkClient(srv.URL+"/", "sk").UpdateEntitlement(context.Background(), "org_42", EntitlementUpdate{
		Plan:          entitlements.PlanEnterprise,
		MemberCeiling: entitlements.UnlimitedMembers,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"max_allowed_memberships": float64(0),
		"private_metadata":        map[string]any{"plan": "enterprise"},
	}, got)
}

func TestClerkClient_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
		notFound  bool
	}{
		{"server error", http.StatusBadGateway, true, false},
		{"rate limited", http.StatusTooManyRequests, true, false},
		{"missing organization", http.StatusNotFound, false, true},
		{"bad request", http.StatusUnprocessableEntity, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"errors":[{"code":"some_code","message":"nope"}]}`)
			}))
			defer srv.Close()

			err := NewClerkClient(srv.URL, "sk").UpdateEntitlement(context.Background(), "org_1", EntitlementUpdate{Plan: entitlements.PlanPro, MemberCeiling: 10})
			require.Error(t, err)

			var upErr *cerrors.UpstreamError
			require.True(t, errors.As(err, &upErr))
			assert.Equal(t, tt.status, upErr.StatusCode)
			assert.Equal(t, "update_organization", upErr.Op)
			assert.Equal(t, tt.retryable, cerrors.IsRetryable(err))
			assert.Equal(t, tt.notFound, errors.Is(err, cerrors.ErrNotFound))
			assert.Contains(t, err.Error(), "some_code")
		})
	}
}

func TestClerkClient_TransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewClerkClient(url, "sk").UpdateEntitlement(context.Background(), "org_1", EntitlementUpdate{Plan: entitlements.PlanPro, MemberCeiling: 10})
	require.Error(t, err)
	assert.True(t, cerrors.IsRetryable(err))
}
