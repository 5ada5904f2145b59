package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	cerrors "github.com/mtliendo/circular-dashboard-design/internal/errors"
	"github.com/mtliendo/circular-dashboard-design/pkg/entitlements"
)

// DefaultClerkAPIURL is Clerk's Backend API base.
const DefaultClerkAPIURL = "https://api.clerk.com/v1"

// ClerkClient is an OrganizationStore backed by the Clerk Backend API.
// The plan tier lives in private metadata; the role-set in public metadata.
type ClerkClient struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClerkClient creates a Clerk organization client.
func NewClerkClient(baseURL, secretKey string) *ClerkClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultClerkAPIURL
	}
	return &ClerkClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type clerkOrganization struct {
	ID                    string         `json:"id"`
	Name                  string         `json:"name"`
	MaxAllowedMemberships int            `json:"max_allowed_memberships"`
	MembersCount          *int           `json:"members_count,omitempty"`
	PublicMetadata        map[string]any `json:"public_metadata"`
	PrivateMetadata       map[string]any `json:"private_metadata"`
}

type clerkUpdateRequest struct {
	MaxAllowedMemberships int            `json:"max_allowed_memberships"`
	PrivateMetadata       map[string]any `json:"private_metadata"`
}

type clerkErrorResponse struct {
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// GetOrganization fetches an organization including its member count.
func (c *ClerkClient) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	endpoint := c.organizationURL(id) + "?include_members_count=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create clerk request: %w", err)
	}

	var org clerkOrganization
	if err := c.do(req, "get_organization", id, &org); err != nil {
		return nil, err
	}

	out := &Organization{
		ID:            org.ID,
		Name:          org.Name,
		Plan:          planFromMetadata(metadataString(org.PrivateMetadata, "plan")),
		RoleSet:       entitlements.ParseRoleSet(metadataString(org.PublicMetadata, "role_set")),
		MemberCeiling: entitlements.MemberCeiling(org.MaxAllowedMemberships),
	}
	if org.MembersCount != nil {
		out.MembersCount = *org.MembersCount
	}
	return out, nil
}

// UpdateEntitlement sets the membership ceiling and plan metadata in a single PATCH.
func (c *ClerkClient) UpdateEntitlement(ctx context.Context, id string, update EntitlementUpdate) error {
	body, err := json.Marshal(clerkUpdateRequest{
		MaxAllowedMemberships: int(update.MemberCeiling),
		PrivateMetadata:       map[string]any{"plan": string(update.Plan)},
	})
	if err != nil {
		return fmt.Errorf("marshal clerk request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.organizationURL(id), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create clerk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "update_organization", id, nil)
}

func (c *ClerkClient) organizationURL(id string) string {
	return c.baseURL + "/organizations/" + url.PathEscape(id)
}

func (c *ClerkClient) do(req *http.Request, op, target string, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return cerrors.NewUpstreamError(op, target, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp clerkErrorResponse
		_ = json.Unmarshal(respBody, &errResp)
		msg := http.StatusText(resp.StatusCode)
		if len(errResp.Errors) > 0 {
			msg = errResp.Errors[0].Code + ": " + errResp.Errors[0].Message
		}
		return cerrors.NewUpstreamError(op, target, fmt.Errorf("clerk: %s", msg)).WithStatusCode(resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode clerk %s response: %w", op, err)
	}
	return nil
}

func metadataString(md map[string]any, key string) string {
	if md == nil {
		return ""
	}
	s, _ := md[key].(string)
	return s
}
