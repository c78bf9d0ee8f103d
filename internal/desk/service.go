// Package desk is the orchestrator boundary used by the HTTP API, the widget
// channel and the CLI: chat turns, end-of-session tickets, contact setup and
// the document library.
package desk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cognicrew/crewdesk/internal/agent"
	"github.com/cognicrew/crewdesk/internal/chat"
	"github.com/cognicrew/crewdesk/internal/helpdesk"
	"github.com/cognicrew/crewdesk/internal/rag"
)

var (
	ErrInvalidAPIKey  = errors.New("invalid api key")
	ErrInvalidRequest = errors.New("invalid request")
)

// defaultFirstMessage seeds a ticket subject when no customer line exists.
const defaultFirstMessage = "Chat Session"

type TurnHandler interface {
	HandleTurn(ctx context.Context, req chat.TurnRequest) (*chat.TurnResult, error)
}

type Helpdesk interface {
	CreateTicket(ctx context.Context, platform string, creds helpdesk.Credentials, draft helpdesk.TicketDraft) (string, error)
	SetupContact(ctx context.Context, creds helpdesk.Credentials, email, name string) (string, error)
}

type DocumentLibrary interface {
	Add(ctx context.Context, accountID, agentID, filename string, content []byte) (rag.DocumentInfo, error)
	List(ctx context.Context, accountID string) ([]rag.DocumentInfo, error)
	Delete(ctx context.Context, accountID, id string) error
}

type Service struct {
	turns    TurnHandler
	agents   agent.Directory
	helpdesk Helpdesk
	docs     DocumentLibrary
}

func NewService(turns TurnHandler, agents agent.Directory, hd Helpdesk, docs DocumentLibrary) *Service {
	return &Service{turns: turns, agents: agents, helpdesk: hd, docs: docs}
}

// Reply is a finished turn as callers see it.
type Reply struct {
	AgentID          string `json:"agent_id"`
	AgentName        string `json:"agent"`
	Response         string `json:"response"`
	AvatarURL        string `json:"avatar_url,omitempty"`
	RAGContext       string `json:"rag_context"`
	SwitchedLanguage string `json:"switched_language,omitempty"`
}

// TurnRequest carries the session context owned by the caller. Agents may be
// supplied inline; otherwise the account's directory entries are used.
type TurnRequest struct {
	AccountID  string
	Agents     []agent.Agent
	Department string
	History    []agent.Turn
	Message    string
	Language   string
}

// RunTurn selects an agent by department and answers one message.
func (s *Service) RunTurn(ctx context.Context, req TurnRequest) (*Reply, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	agents := req.Agents
	if len(agents) == 0 {
		listed, err := s.agents.List(ctx, req.AccountID)
		if err != nil {
			return nil, fmt.Errorf("list agents: %w", err)
		}
		agents = listed
	}
	a, err := agent.Select(agents, req.Department)
	if err != nil {
		return nil, err
	}
	return s.turn(ctx, req.AccountID, a, req.History, req.Message, req.Language)
}

type WidgetTurnRequest struct {
	AccountID  string
	Department string
	APIKey     string
	History    []agent.Turn
	Message    string
	Language   string
}

// WidgetTurn resolves the agent strictly by department and checks the embed
// key before answering.
func (s *Service) WidgetTurn(ctx context.Context, req WidgetTurnRequest) (*Reply, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	a, err := s.WidgetAgent(ctx, req.AccountID, req.Department, req.APIKey)
	if err != nil {
		return nil, err
	}
	return s.turn(ctx, req.AccountID, a, req.History, req.Message, req.Language)
}

// WidgetAgent returns the department's agent if apiKey matches its key.
func (s *Service) WidgetAgent(ctx context.Context, accountID, department, apiKey string) (agent.Agent, error) {
	a, err := s.agents.ByDepartment(ctx, accountID, department)
	if err != nil {
		return agent.Agent{}, err
	}
	if a.APIKey != apiKey {
		return agent.Agent{}, ErrInvalidAPIKey
	}
	return a, nil
}

func (s *Service) turn(ctx context.Context, accountID string, a agent.Agent, history []agent.Turn, message, language string) (*Reply, error) {
	res, err := s.turns.HandleTurn(ctx, chat.TurnRequest{
		AccountID: accountID,
		Agent:     a,
		History:   history,
		Message:   message,
		Language:  language,
	})
	if err != nil {
		return nil, err
	}
	return &Reply{
		AgentID:          a.ID,
		AgentName:        res.AgentName,
		Response:         res.Reply,
		AvatarURL:        res.AvatarURL,
		RAGContext:       res.RAGContext,
		SwitchedLanguage: res.SwitchedLanguage,
	}, nil
}

// EndSessionRequest identifies the session's agent by AgentID or, failing
// that, by Department. DefaultPlatform applies when the agent has none.
type EndSessionRequest struct {
	AccountID       string
	AgentID         string
	Department      string
	Turns           []agent.Turn
	CustomerName    string
	CustomerEmail   string
	DefaultPlatform string
}

// EndSession files the session transcript as a ticket. It reports created
// false without error when the agent does not file tickets, has no platform,
// or the session is empty.
func (s *Service) EndSession(ctx context.Context, req EndSessionRequest) (string, bool, error) {
	if len(req.Turns) == 0 {
		return "", false, nil
	}
	a, err := s.sessionAgent(ctx, req.AccountID, req.AgentID, req.Department)
	if err != nil {
		return "", false, err
	}
	platform := strings.TrimSpace(a.Helpdesk.Platform)
	if platform == "" {
		platform = strings.TrimSpace(req.DefaultPlatform)
	}
	if !a.CreateTickets || platform == "" {
		log.Printf("[desk] session for %s ended without ticket (tickets=%t platform=%q)", a.Name, a.CreateTickets, platform)
		return "", false, nil
	}

	first := defaultFirstMessage
	for _, t := range req.Turns {
		if t.Role == agent.RoleUser {
			first = t.Content
			break
		}
	}
	raw := helpdesk.RenderTurns(req.Turns, a.Name)
	name, email := helpdesk.Requester(req.CustomerName, req.CustomerEmail)
	id, err := s.helpdesk.CreateTicket(ctx, platform, credentials(a), helpdesk.TicketDraft{
		Subject:        helpdesk.Subject(a.Name, first),
		Description:    helpdesk.Describe(raw, name, a.Name, first, raw),
		RequesterName:  name,
		RequesterEmail: email,
		DepartmentID:   a.Helpdesk.DepartmentID,
	})
	if err != nil {
		return "", false, fmt.Errorf("end session ticket: %w", err)
	}
	return id, true, nil
}

func (s *Service) sessionAgent(ctx context.Context, accountID, agentID, department string) (agent.Agent, error) {
	if agentID != "" {
		return s.agents.ByID(ctx, accountID, agentID)
	}
	if department != "" {
		return s.agents.ByDepartment(ctx, accountID, department)
	}
	return agent.Agent{}, fmt.Errorf("%w: agent id or department is required", ErrInvalidRequest)
}

// TicketRequest files a ticket from an already rendered transcript.
type TicketRequest struct {
	AccountID     string `json:"user_id"`
	AgentID       string `json:"agent_id"`
	AgentName     string `json:"agent_name"`
	Message       string `json:"message"`
	Response      string `json:"response"`
	Platform      string `json:"platform"`
	DepartmentID  string `json:"department_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
}

// CreateTicket files req.Response, a "User:/Agent:" transcript, with the
// agent's helpdesk credentials.
func (s *Service) CreateTicket(ctx context.Context, req TicketRequest) (string, error) {
	a, err := s.agents.ByID(ctx, req.AccountID, req.AgentID)
	if err != nil {
		return "", err
	}
	platform := req.Platform
	if strings.TrimSpace(platform) == "" {
		platform = a.Helpdesk.Platform
	}
	agentName := req.AgentName
	if agentName == "" {
		agentName = a.Name
	}
	departmentID := a.Helpdesk.DepartmentID
	if departmentID == "" {
		departmentID = req.DepartmentID
	}
	name, email := helpdesk.Requester(req.CustomerName, req.CustomerEmail)
	log.Printf("[desk] creating ticket for %s via %s (agent %s)", email, platform, a.Name)

	return s.helpdesk.CreateTicket(ctx, platform, credentials(a), helpdesk.TicketDraft{
		Subject:        helpdesk.Subject(agentName, req.Message),
		Description:    helpdesk.Describe(req.Response, name, a.Name, req.Message, req.Response),
		RequesterName:  name,
		RequesterEmail: email,
		DepartmentID:   departmentID,
	})
}

// SetupContact registers the customer with the agent's helpdesk. Only Zoho
// Desk agents get a contact; for the rest created is false.
func (s *Service) SetupContact(ctx context.Context, accountID, agentID, name, email string) (string, bool, error) {
	if agentID == "" {
		return "", false, nil
	}
	a, err := s.agents.ByID(ctx, accountID, agentID)
	if err != nil {
		return "", false, err
	}
	if p, err := helpdesk.ParsePlatform(a.Helpdesk.Platform); err != nil || p != helpdesk.ZohoDesk {
		return "", false, nil
	}
	id, err := s.helpdesk.SetupContact(ctx, credentials(a), email, name)
	if err != nil {
		return "", false, fmt.Errorf("setup contact: %w", err)
	}
	return id, true, nil
}

func credentials(a agent.Agent) helpdesk.Credentials {
	h := a.Helpdesk
	return helpdesk.Credentials{
		ClientID:     h.ClientID,
		ClientSecret: h.ClientSecret,
		RefreshToken: h.RefreshToken,
		OrgID:        h.OrgID,
		DepartmentID: h.DepartmentID,
		Subdomain:    h.Subdomain,
		APIKey:       h.APIKey,
	}
}

// UploadDocument adds a file to the agent's retrieval library.
func (s *Service) UploadDocument(ctx context.Context, accountID, agentID, filename string, content []byte) (rag.DocumentInfo, error) {
	if _, err := s.agents.ByID(ctx, accountID, agentID); err != nil {
		return rag.DocumentInfo{}, err
	}
	return s.docs.Add(ctx, accountID, agentID, filename, content)
}

func (s *Service) ListDocuments(ctx context.Context, accountID string) ([]rag.DocumentInfo, error) {
	return s.docs.List(ctx, accountID)
}

func (s *Service) DeleteDocument(ctx context.Context, accountID, id string) error {
	return s.docs.Delete(ctx, accountID, id)
}

// ListAgents returns the account's agents with credentials removed.
func (s *Service) ListAgents(ctx context.Context, accountID string) ([]agent.Agent, error) {
	agents, err := s.agents.List(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out := make([]agent.Agent, len(agents))
	for i, a := range agents {
		out[i] = a.Public()
	}
	return out, nil
}
