// Package agent holds support persona configuration and the rules for picking
// one persona for a conversation.
package agent

import (
	"errors"
	"fmt"
	"strings"
)

const DefaultCompany = "CogniCrew"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrAgentNotFound = errors.New("agent not found")

// Agent is a read-only snapshot of one persona. The orchestrator never mutates it.
type Agent struct {
	ID            string   `yaml:"id" json:"id"`
	AccountID     string   `yaml:"account_id" json:"account_id"`
	Name          string   `yaml:"name" json:"name"`
	Role          string   `yaml:"role" json:"role"`
	Company       string   `yaml:"company" json:"company"`
	Department    string   `yaml:"department" json:"department"`
	Info          string   `yaml:"info" json:"info"`
	LLMType       string   `yaml:"llm_type" json:"llm_type"`
	APIKey        string   `yaml:"api_key" json:"api_key"`
	RAGOnly       bool     `yaml:"rag_only" json:"rag_only"`
	IsDefault     bool     `yaml:"is_default" json:"is_default"`
	AvatarURL     string   `yaml:"avatar_url" json:"avatar_url,omitempty"`
	Helpdesk      Helpdesk `yaml:"helpdesk" json:"helpdesk"`
	CreateTickets bool     `yaml:"create_tickets" json:"create_tickets"`
}

// Helpdesk carries the ticketing integration of one agent.
type Helpdesk struct {
	Platform     string `yaml:"platform" json:"platform"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
	RefreshToken string `yaml:"refresh_token" json:"refresh_token"`
	OrgID        string `yaml:"org_id" json:"org_id"`
	DepartmentID string `yaml:"department_id" json:"department_id"`
	Subdomain    string `yaml:"subdomain" json:"subdomain"`
	APIKey       string `yaml:"api_key" json:"api_key,omitempty"`
}

// Turn is one entry of a conversation history.
type Turn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func (a Agent) CompanyName() string {
	if c := strings.TrimSpace(a.Company); c != "" {
		return c
	}
	return DefaultCompany
}

// Public returns a copy with every credential cleared.
func (a Agent) Public() Agent {
	a.APIKey = ""
	a.Helpdesk = Helpdesk{Platform: a.Helpdesk.Platform}
	return a
}

// Select picks the agent whose department matches exactly. An empty department
// selects the first agent; a named department with no match is an error.
func Select(agents []Agent, department string) (Agent, error) {
	if len(agents) == 0 {
		return Agent{}, fmt.Errorf("%w: no agents configured", ErrAgentNotFound)
	}
	if department == "" {
		return agents[0], nil
	}
	for _, a := range agents {
		if a.Department == department {
			return a, nil
		}
	}
	return Agent{}, fmt.Errorf("%w: no agent for department %q", ErrAgentNotFound, department)
}
