// Package channel hosts the embeddable chat widget's websocket endpoint.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/cognicrew/crewdesk/internal/agent"
	"github.com/cognicrew/crewdesk/internal/bus"
	"github.com/cognicrew/crewdesk/internal/config"
	"github.com/cognicrew/crewdesk/internal/desk"
)

const WidgetChannelName = "widget"

const writeTimeout = 5 * time.Second

// TurnRunner is the part of desk.Service the widget needs.
type TurnRunner interface {
	WidgetAgent(ctx context.Context, accountID, department, apiKey string) (agent.Agent, error)
	WidgetTurn(ctx context.Context, req desk.WidgetTurnRequest) (*desk.Reply, error)
}

type clientFrame struct {
	Type          string `json:"type"`
	Content       string `json:"content,omitempty"`
	AccountID     string `json:"accountId,omitempty"`
	Department    string `json:"department,omitempty"`
	APIKey        string `json:"apiKey,omitempty"`
	CustomerName  string `json:"customerName,omitempty"`
	CustomerEmail string `json:"customerEmail,omitempty"`
	Language      string `json:"language,omitempty"`
}

type serverFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	Agent     string `json:"agent,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	TicketID  string `json:"ticketId,omitempty"`
}

// widgetSession is the history a widget connection owns. It is touched by
// the read loop and the inactivity timer, hence the mutex.
type widgetSession struct {
	id   string
	conn *websocket.Conn

	mu            sync.Mutex
	started       bool
	accountID     string
	department    string
	apiKey        string
	agentID       string
	customerName  string
	customerEmail string
	language      string
	history       []agent.Turn
	timer         *time.Timer
	// epoch changes whenever the session starts or ends.
	epoch uint64
}

type WidgetChannel struct {
	runner     TurnRunner
	bus        *bus.MessageBus
	inactivity time.Duration
	platform   string
	languages  []string

	sessions sync.Map
}

func NewWidgetChannel(cfg config.WidgetConfig, languages []string, runner TurnRunner, b *bus.MessageBus) *WidgetChannel {
	return &WidgetChannel{
		runner:     runner,
		bus:        b,
		inactivity: cfg.InactivityDuration(),
		platform:   cfg.DefaultPlatform,
		languages:  languages,
	}
}

func (w *WidgetChannel) Name() string { return WidgetChannelName }

// Start subscribes to ticket results so they reach the right connection.
func (w *WidgetChannel) Start(ctx context.Context) error {
	w.bus.SubscribeResults(WidgetChannelName, w.deliverResult)
	log.Printf("[widget] ready, inactivity timeout %s", w.inactivity)
	return nil
}

func (w *WidgetChannel) Stop() error {
	w.sessions.Range(func(key, value any) bool {
		s := value.(*widgetSession)
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
		}
		s.mu.Unlock()
		s.conn.Close(websocket.StatusGoingAway, "server shutting down")
		return true
	})
	log.Printf("[widget] stopped")
	return nil
}

func (w *WidgetChannel) ServeHTTP(wr http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(wr, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[widget] websocket accept error: %v", err)
		return
	}

	s := &widgetSession{id: uuid.NewString(), conn: conn}
	w.sessions.Store(s.id, s)
	log.Printf("[widget] client connected: %s", s.id)

	defer func() {
		w.endSession(s, "disconnect")
		w.sessions.Delete(s.id)
		conn.CloseNow()
		log.Printf("[widget] client disconnected: %s", s.id)
	}()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			w.send(s, serverFrame{Type: "error", Content: "malformed frame"})
			continue
		}
		switch frame.Type {
		case "start":
			w.handleStart(ctx, s, frame)
		case "message":
			w.handleMessage(ctx, s, frame.Content)
		case "end":
			w.endSession(s, "ended")
		default:
			w.send(s, serverFrame{Type: "error", Content: "unknown frame type " + frame.Type})
		}
	}
}

func (w *WidgetChannel) handleStart(ctx context.Context, s *widgetSession, f clientFrame) {
	a, err := w.runner.WidgetAgent(ctx, f.AccountID, f.Department, f.APIKey)
	if err != nil {
		w.send(s, serverFrame{Type: "error", Content: errorText(err)})
		return
	}
	language := f.Language
	if language == "" && len(w.languages) > 0 {
		language = w.languages[0]
	}

	s.mu.Lock()
	s.started = true
	s.accountID = f.AccountID
	s.department = f.Department
	s.apiKey = f.APIKey
	s.agentID = a.ID
	s.customerName = f.CustomerName
	s.customerEmail = f.CustomerEmail
	s.language = language
	s.history = nil
	s.epoch++
	s.mu.Unlock()

	w.send(s, serverFrame{Type: "started", Agent: a.Name, AvatarURL: a.AvatarURL, SessionID: s.id})
}

func (w *WidgetChannel) handleMessage(ctx context.Context, s *widgetSession, content string) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		w.send(s, serverFrame{Type: "error", Content: "session not started"})
		return
	}
	req := desk.WidgetTurnRequest{
		AccountID:  s.accountID,
		Department: s.department,
		APIKey:     s.apiKey,
		History:    append([]agent.Turn(nil), s.history...),
		Message:    content,
		Language:   s.language,
	}
	epoch := s.epoch
	// The session cannot go inactive while a turn is running.
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	reply, err := w.runner.WidgetTurn(ctx, req)
	if err != nil {
		log.Printf("[widget] turn failed for %s: %v", s.id, err)
		s.mu.Lock()
		if s.started && s.epoch == epoch {
			w.resetTimerLocked(s)
		}
		s.mu.Unlock()
		w.send(s, serverFrame{Type: "error", Content: errorText(err)})
		return
	}

	s.mu.Lock()
	if !s.started || s.epoch != epoch {
		s.mu.Unlock()
		log.Printf("[widget] discarding reply for ended session %s", s.id)
		w.send(s, serverFrame{Type: "error", Content: "session ended, start a new session"})
		return
	}
	s.history = append(s.history,
		agent.Turn{Role: agent.RoleUser, Content: content},
		agent.Turn{Role: agent.RoleAssistant, Content: reply.Response, AvatarURL: reply.AvatarURL},
	)
	if reply.SwitchedLanguage != "" {
		s.language = reply.SwitchedLanguage
	}
	w.resetTimerLocked(s)
	s.mu.Unlock()

	w.send(s, serverFrame{Type: "message", Content: reply.Response, Agent: reply.AgentName, AvatarURL: reply.AvatarURL})
	if reply.SwitchedLanguage != "" {
		w.send(s, serverFrame{Type: "language", Content: reply.SwitchedLanguage})
	}
}

func (w *WidgetChannel) resetTimerLocked(s *widgetSession) {
	if w.inactivity <= 0 {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(w.inactivity, func() {
		w.send(s, serverFrame{Type: "error", Content: "session inactive, ending session"})
		w.endSession(s, "inactivity")
	})
}

// endSession hands the history to the bus and clears it, so a session is
// filed at most once whichever of end, disconnect or inactivity comes first.
func (w *WidgetChannel) endSession(s *widgetSession, reason string) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.started || len(s.history) == 0 {
		s.mu.Unlock()
		return
	}
	ev := bus.SessionEnded{
		Channel:       WidgetChannelName,
		SessionID:     s.id,
		AccountID:     s.accountID,
		AgentID:       s.agentID,
		Department:    s.department,
		Turns:         s.history,
		CustomerName:  s.customerName,
		CustomerEmail: s.customerEmail,
		Platform:      w.platform,
		Reason:        reason,
		Timestamp:     time.Now(),
	}
	s.history = nil
	s.started = false
	s.epoch++
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if !w.bus.PublishEnded(ctx, ev) {
		log.Printf("[widget] dropped session end for %s: bus full", s.id)
		return
	}
	log.Printf("[widget] session %s ended (%s, %d turns)", s.id, reason, len(ev.Turns))
}

func (w *WidgetChannel) deliverResult(res bus.TicketResult) {
	v, ok := w.sessions.Load(res.SessionID)
	if !ok {
		return
	}
	s := v.(*widgetSession)
	switch {
	case res.Err != "":
		w.send(s, serverFrame{Type: "error", Content: "ticket creation failed: " + res.Err})
	case res.Created:
		w.send(s, serverFrame{Type: "ticket", TicketID: res.TicketID, Content: "Session ended. Ticket created: " + res.TicketID})
	}
}

func (w *WidgetChannel) send(s *widgetSession, f serverFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		log.Printf("[widget] write to %s failed: %v", s.id, err)
	}
}

func errorText(err error) string {
	switch {
	case errors.Is(err, desk.ErrInvalidAPIKey):
		return "Invalid API key"
	case errors.Is(err, agent.ErrAgentNotFound):
		return "No agent available for this department"
	}
	return err.Error()
}
