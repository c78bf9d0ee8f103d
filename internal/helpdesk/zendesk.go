package helpdesk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cognicrew/crewdesk/internal/config"
)

// ZendeskClient files tickets with a static bearer key against a
// subdomain-templated base URL.
type ZendeskClient struct {
	urlTemplate string
	client      *http.Client
}

func NewZendeskClient(urlTemplate string, client *http.Client) *ZendeskClient {
	if urlTemplate == "" {
		urlTemplate = config.DefaultZendeskURLTemplate
	}
	return &ZendeskClient{urlTemplate: urlTemplate, client: client}
}

type zendeskTicket struct {
	Subject      string           `json:"subject"`
	Comment      zendeskComment   `json:"comment"`
	Requester    zendeskRequester `json:"requester"`
	DepartmentID string           `json:"department_id,omitempty"`
}

type zendeskComment struct {
	Body string `json:"body"`
}

type zendeskRequester struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// zendeskKey falls back to ClientID, where agent records have historically kept
// the Zendesk token.
func (c Credentials) zendeskKey() string {
	if k := strings.TrimSpace(c.APIKey); k != "" {
		return k
	}
	return strings.TrimSpace(c.ClientID)
}

func (z *ZendeskClient) CreateTicket(ctx context.Context, creds Credentials, draft TicketDraft) (string, error) {
	subdomain := strings.TrimSpace(creds.Subdomain)
	if subdomain == "" {
		return "", fmt.Errorf("%w: zendesk requires a subdomain", ErrInvalidConfig)
	}
	key := creds.zendeskKey()
	if key == "" {
		return "", fmt.Errorf("%w: zendesk requires an api key", ErrInvalidConfig)
	}

	departmentID := creds.DepartmentID
	if departmentID == "" {
		departmentID = draft.DepartmentID
	}
	data, err := json.Marshal(map[string]zendeskTicket{"ticket": {
		Subject:      draft.Subject,
		Comment:      zendeskComment{Body: draft.Description},
		Requester:    zendeskRequester{Name: draft.RequesterName, Email: draft.RequesterEmail},
		DepartmentID: departmentID,
	}})
	if err != nil {
		return "", fmt.Errorf("zendesk ticket: marshal: %w", err)
	}

	endpoint := strings.TrimRight(fmt.Sprintf(z.urlTemplate, subdomain), "/") + "/api/v2/tickets"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("zendesk ticket: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	body, err := doRequest(z.client, "ticket", req)
	if err != nil {
		return "", err
	}

	var resp struct {
		ID     flexID `json:"id"`
		Ticket struct {
			ID flexID `json:"id"`
		} `json:"ticket"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: zendesk ticket: %v", ErrInvalidResponse, err)
	}
	id := resp.ID
	if id == "" {
		id = resp.Ticket.ID
	}
	if id == "" {
		return "", fmt.Errorf("%w: zendesk ticket response without id", ErrInvalidResponse)
	}
	return string(id), nil
}
