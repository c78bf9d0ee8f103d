// Package helpdesk files support tickets with external helpdesk providers and
// renders chat transcripts into ticket descriptions.
package helpdesk

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cognicrew/crewdesk/internal/config"
)

// Platform is a supported helpdesk provider tag.
type Platform string

const (
	ZohoDesk Platform = "zoho desk"
	Zendesk  Platform = "zendesk"
)

// ParsePlatform matches a platform tag case-insensitively.
func ParsePlatform(tag string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(tag))); p {
	case ZohoDesk, Zendesk:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedPlatform, tag)
}

// Credentials are the per-agent helpdesk settings.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	OrgID        string
	DepartmentID string
	Subdomain    string
	APIKey       string
}

// TicketDraft is a ticket ready to be filed.
type TicketDraft struct {
	Subject        string
	Description    string
	RequesterName  string
	RequesterEmail string
	DepartmentID   string
}

// Provider files a ticket on one platform. Implementations validate creds
// before touching the network.
type Provider interface {
	CreateTicket(ctx context.Context, creds Credentials, draft TicketDraft) (string, error)
}

// Gateway selects a Provider by platform tag.
type Gateway struct {
	providers map[Platform]Provider
	zoho      *ZohoClient
	timeout   time.Duration
}

func NewGateway(cfg config.HelpdeskConfig, client *http.Client) *Gateway {
	if client == nil {
		client = http.DefaultClient
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultHelpdeskTimeoutMs) * time.Millisecond
	}
	zoho := NewZohoClient(cfg.ZohoAccountsURL, cfg.ZohoDeskURL, client)
	return &Gateway{
		providers: map[Platform]Provider{
			ZohoDesk: zoho,
			Zendesk:  NewZendeskClient(cfg.ZendeskURLTemplate, client),
		},
		zoho:    zoho,
		timeout: timeout,
	}
}

// RefreshToken exchanges a Zoho refresh token for a fresh access token.
// Nothing is cached; every call performs the grant.
func (g *Gateway) RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.zoho.RefreshToken(ctx, clientID, clientSecret, refreshToken)
}

// EnsureContact creates a Zoho Desk contact and returns its id. It does not
// look for an existing contact with the same email, so repeated calls create
// duplicates.
func (g *Gateway) EnsureContact(ctx context.Context, accessToken, orgID, email, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.zoho.CreateContact(ctx, accessToken, orgID, email, name)
}

// SetupContact refreshes a token with creds and creates a contact.
func (g *Gateway) SetupContact(ctx context.Context, creds Credentials, email, name string) (string, error) {
	if err := g.zoho.validate(creds); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	token, err := g.zoho.RefreshToken(ctx, creds.ClientID, creds.ClientSecret, creds.RefreshToken)
	if err != nil {
		return "", err
	}
	return g.zoho.CreateContact(ctx, token, creds.OrgID, email, name)
}

// CreateTicket files draft on the platform named by tag and returns the
// provider's ticket identifier.
func (g *Gateway) CreateTicket(ctx context.Context, platform string, creds Credentials, draft TicketDraft) (string, error) {
	p, err := ParsePlatform(platform)
	if err != nil {
		return "", err
	}
	provider, ok := g.providers[p]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPlatform, platform)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	id, err := provider.CreateTicket(ctx, creds, draft)
	if err != nil {
		log.Printf("[helpdesk] %s ticket failed after %.2fs: %v", p, time.Since(start).Seconds(), err)
		return "", err
	}
	log.Printf("[helpdesk] %s ticket %s created in %.2fs", p, id, time.Since(start).Seconds())
	return id, nil
}
