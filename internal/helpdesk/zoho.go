package helpdesk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// ZohoClient talks to Zoho accounts (token refresh) and Zoho Desk.
type ZohoClient struct {
	accountsURL string
	deskURL     string
	client      *http.Client
}

func NewZohoClient(accountsURL, deskURL string, client *http.Client) *ZohoClient {
	return &ZohoClient{
		accountsURL: strings.TrimRight(accountsURL, "/"),
		deskURL:     strings.TrimRight(deskURL, "/"),
		client:      client,
	}
}

func (z *ZohoClient) validate(creds Credentials) error {
	return requireFields("zoho desk",
		"client id", creds.ClientID,
		"client secret", creds.ClientSecret,
		"refresh token", creds.RefreshToken,
		"org id", creds.OrgID,
	)
}

// requireFields takes name/value pairs and reports every blank value.
func requireFields(what string, pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s requires %s", ErrInvalidConfig, what, strings.Join(missing, ", "))
	}
	return nil
}

// RefreshToken runs the OAuth2 refresh-token grant with the client
// credentials sent as form parameters.
func (z *ZohoClient) RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (string, error) {
	if err := requireFields("zoho token refresh",
		"client id", clientID,
		"client secret", clientSecret,
		"refresh token", refreshToken,
	); err != nil {
		return "", err
	}
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  z.accountsURL + "/oauth/v2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, z.client)
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", mapTokenError(err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: token response without access_token", ErrInvalidResponse)
	}
	log.Printf("[helpdesk] zoho access token %s...", prefix(tok.AccessToken, 10))
	return tok.AccessToken, nil
}

func mapTokenError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}
		return &ProviderError{Op: "token", StatusCode: status, Body: string(rErr.Body)}
	}
	var uErr *url.Error
	if errors.As(err, &uErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: token: %v", ErrTransportFailure, err)
	}
	return fmt.Errorf("%w: token: %v", ErrInvalidResponse, err)
}

// CreateContact always creates a new contact; callers that want reuse must
// keep the returned id.
func (z *ZohoClient) CreateContact(ctx context.Context, accessToken, orgID, email, name string) (string, error) {
	if err := requireFields("zoho contact", "access token", accessToken, "org id", orgID); err != nil {
		return "", err
	}
	first, last := splitName(name)
	body, err := z.post(ctx, "contact", "/api/v1/contacts", accessToken, orgID, map[string]string{
		"email":     email,
		"lastName":  last,
		"firstName": first,
	})
	if err != nil {
		return "", err
	}
	var contact struct {
		ID flexID `json:"id"`
	}
	if err := json.Unmarshal(body, &contact); err != nil || contact.ID == "" {
		return "", fmt.Errorf("%w: contact response without id", ErrInvalidResponse)
	}
	log.Printf("[helpdesk] created zoho contact %s for %s", contact.ID, email)
	return string(contact.ID), nil
}

// CreateTicket refreshes a token, creates a contact for the requester and
// files the ticket. The returned id is the desk's ticketNumber.
func (z *ZohoClient) CreateTicket(ctx context.Context, creds Credentials, draft TicketDraft) (string, error) {
	if err := z.validate(creds); err != nil {
		return "", err
	}
	token, err := z.RefreshToken(ctx, creds.ClientID, creds.ClientSecret, creds.RefreshToken)
	if err != nil {
		return "", err
	}
	contactID, err := z.CreateContact(ctx, token, creds.OrgID, draft.RequesterEmail, draft.RequesterName)
	if err != nil {
		return "", err
	}

	departmentID := creds.DepartmentID
	if departmentID == "" {
		departmentID = draft.DepartmentID
	}
	body, err := z.post(ctx, "ticket", "/api/v1/tickets", token, creds.OrgID, map[string]string{
		"subject":      draft.Subject,
		"description":  draft.Description,
		"contactId":    contactID,
		"departmentId": departmentID,
		"status":       "Open",
		"priority":     "Medium",
	})
	if err != nil {
		return "", err
	}
	var ticket struct {
		TicketNumber flexID `json:"ticketNumber"`
	}
	if err := json.Unmarshal(body, &ticket); err != nil || ticket.TicketNumber == "" {
		return "", fmt.Errorf("%w: ticket response without ticketNumber", ErrInvalidResponse)
	}
	return string(ticket.TicketNumber), nil
}

func (z *ZohoClient) post(ctx context.Context, op, path, accessToken, orgID string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("zoho %s: marshal: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.deskURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zoho %s: create request: %w", op, err)
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("orgId", orgID)
	return doRequest(z.client, op, req)
}

// doRequest accepts 200 and 201, the statuses the desk APIs use for creates.
func doRequest(client *http.Client, op string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransportFailure, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read response: %v", ErrTransportFailure, op, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &ProviderError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// flexID accepts an identifier sent either as a JSON string or a number.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// splitName splits on whitespace only when the name contains a space:
// "Ada Lovelace" is first "Ada", last "Lovelace"; "Ada" is last "Ada".
func splitName(name string) (first, last string) {
	if !strings.Contains(name, " ") {
		return "", name
	}
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", strings.TrimSpace(name)
	}
	return parts[0], parts[len(parts)-1]
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
