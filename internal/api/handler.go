// Package api exposes the desk service over HTTP/JSON.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/cognicrew/crewdesk/internal/agent"
	"github.com/cognicrew/crewdesk/internal/desk"
	"github.com/cognicrew/crewdesk/internal/helpdesk"
	"github.com/cognicrew/crewdesk/internal/llm"
	"github.com/cognicrew/crewdesk/internal/rag"
)

const defaultLanguage = "English"

// maxJSONBody bounds non-upload request bodies.
const maxJSONBody = 1 << 20

type Handler struct {
	svc             *desk.Service
	maxUpload       int64
	defaultPlatform string
}

func NewHandler(svc *desk.Service, maxUpload int64, defaultPlatform string) *Handler {
	if maxUpload <= 0 {
		maxUpload = rag.DefaultMaxUploadBytes
	}
	return &Handler{svc: svc, maxUpload: maxUpload, defaultPlatform: defaultPlatform}
}

// Router builds the chi router. widget, when non-nil, is mounted at
// /ws/widget.
func (h *Handler) Router(widget http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	h.RegisterRoutes(r)
	if widget != nil {
		r.Get("/ws/widget", widget.ServeHTTP)
	}
	return r
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.Chat)
	r.Post("/chat_widget", h.ChatWidget)
	r.Post("/end_session", h.EndSession)
	r.Post("/create_ticket", h.CreateTicket)
	r.Post("/setup_contact", h.SetupContact)
	r.Post("/upload_rag", h.UploadRAG)
	r.Get("/list_rag", h.ListRAG)
	r.Post("/delete_rag", h.DeleteRAG)
	r.Get("/list_agents", h.ListAgents)
}

// JSON writes v with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

// Error writes {"detail": message}.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"detail": message})
}

// fail maps a service error onto an HTTP status.
func fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[api] %d: %v", status, err)
	}
	Error(w, status, err.Error())
}

func statusFor(err error) int {
	var llmErr *llm.ProviderError
	var hdErr *helpdesk.ProviderError
	switch {
	case errors.Is(err, agent.ErrAgentNotFound), errors.Is(err, rag.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, desk.ErrInvalidAPIKey):
		return http.StatusForbidden
	case errors.Is(err, desk.ErrInvalidRequest),
		errors.Is(err, llm.ErrMissingCredential),
		errors.Is(err, helpdesk.ErrUnsupportedPlatform),
		errors.Is(err, helpdesk.ErrInvalidConfig),
		errors.Is(err, rag.ErrFileTooLarge),
		errors.Is(err, rag.ErrInvalidEncoding):
		return http.StatusBadRequest
	case errors.As(err, &llmErr), errors.As(err, &hdErr),
		errors.Is(err, llm.ErrInvalidResponse), errors.Is(err, helpdesk.ErrInvalidResponse):
		return http.StatusBadGateway
	case errors.Is(err, llm.ErrTransportFailure), errors.Is(err, helpdesk.ErrTransportFailure):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func languageOr(lang string) string {
	if strings.TrimSpace(lang) == "" {
		return defaultLanguage
	}
	return lang
}

type chatRequest struct {
	UserID     string        `json:"user_id"`
	Message    string        `json:"message"`
	Mode       string        `json:"mode"`
	Agents     []agent.Agent `json:"agents"`
	History    []agent.Turn  `json:"history"`
	Language   string        `json:"language"`
	Department string        `json:"department"`
}

type chatResponse struct {
	AgentName string `json:"agent"`
	Response  string `json:"response"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decode(w, r, &req) {
		return
	}
	reply, err := h.svc.RunTurn(r.Context(), desk.TurnRequest{
		AccountID:  req.UserID,
		Agents:     req.Agents,
		Department: req.Department,
		History:    req.History,
		Message:    req.Message,
		Language:   languageOr(req.Language),
	})
	if err != nil {
		fail(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"responses":         []chatResponse{{AgentName: reply.AgentName, Response: reply.Response, AvatarURL: reply.AvatarURL}},
		"rag_context":       reply.RAGContext,
		"switched_language": reply.SwitchedLanguage,
	})
}

type widgetRequest struct {
	UserID     string       `json:"user_id"`
	Message    string       `json:"message"`
	Department string       `json:"department"`
	APIKey     string       `json:"api_key"`
	History    []agent.Turn `json:"history"`
	Language   string       `json:"language"`
}

func (h *Handler) ChatWidget(w http.ResponseWriter, r *http.Request) {
	var req widgetRequest
	if !decode(w, r, &req) {
		return
	}
	reply, err := h.svc.WidgetTurn(r.Context(), desk.WidgetTurnRequest{
		AccountID:  req.UserID,
		Department: req.Department,
		APIKey:     req.APIKey,
		History:    req.History,
		Message:    req.Message,
		Language:   languageOr(req.Language),
	})
	if err != nil {
		fail(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"agent":             reply.AgentName,
		"response":          reply.Response,
		"avatar_url":        reply.AvatarURL,
		"agent_id":          reply.AgentID,
		"switched_language": reply.SwitchedLanguage,
		"ticket_id":         nil,
	})
}

type endSessionRequest struct {
	UserID        string       `json:"user_id"`
	AgentID       string       `json:"agent_id"`
	Department    string       `json:"department"`
	History       []agent.Turn `json:"history"`
	CustomerName  string       `json:"customer_name"`
	CustomerEmail string       `json:"customer_email"`
}

func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	var req endSessionRequest
	if !decode(w, r, &req) {
		return
	}
	id, created, err := h.svc.EndSession(r.Context(), desk.EndSessionRequest{
		AccountID:       req.UserID,
		AgentID:         req.AgentID,
		Department:      req.Department,
		Turns:           req.History,
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		DefaultPlatform: h.defaultPlatform,
	})
	if err != nil {
		fail(w, err)
		return
	}
	var ticketID any
	if created {
		ticketID = id
	}
	JSON(w, http.StatusOK, map[string]any{"ticket_id": ticketID, "created": created})
}

func (h *Handler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	var req desk.TicketRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := h.svc.CreateTicket(r.Context(), req)
	if err != nil {
		fail(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"message": "Ticket created: " + id, "ticket_id": id})
}

type contactRequest struct {
	UserID  string `json:"user_id"`
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
}

func (h *Handler) SetupContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if !decode(w, r, &req) {
		return
	}
	id, created, err := h.svc.SetupContact(r.Context(), req.UserID, req.AgentID, req.Name, req.Email)
	if err != nil {
		fail(w, err)
		return
	}
	var contactID any
	if created {
		contactID = id
	}
	JSON(w, http.StatusOK, map[string]any{"contact_id": contactID})
}

func (h *Handler) UploadRAG(w http.ResponseWriter, r *http.Request) {
	// Multipart framing needs headroom beyond the file limit itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		Error(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	userID := r.FormValue("user_id")
	agentID := r.FormValue("agent_id")
	if userID == "" || agentID == "" {
		Error(w, http.StatusBadRequest, "user_id and agent_id are required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		Error(w, http.StatusBadRequest, "read file: "+err.Error())
		return
	}
	doc, err := h.svc.UploadDocument(r.Context(), userID, agentID, header.Filename, content)
	if err != nil {
		fail(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"message":   "Uploaded " + doc.Filename + " successfully",
		"memory_id": doc.ID,
		"file_path": doc.Ref,
		"embedded":  doc.Embedded,
	})
}

func (h *Handler) ListRAG(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		Error(w, http.StatusBadRequest, "user_id is required")
		return
	}
	docs, err := h.svc.ListDocuments(r.Context(), userID)
	if err != nil {
		fail(w, err)
		return
	}
	if docs == nil {
		docs = []rag.DocumentInfo{}
	}
	JSON(w, http.StatusOK, map[string]any{"files": docs})
}

type deleteRAGRequest struct {
	UserID   string `json:"user_id"`
	MemoryID string `json:"memory_id"`
}

func (h *Handler) DeleteRAG(w http.ResponseWriter, r *http.Request) {
	var req deleteRAGRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.DeleteDocument(r.Context(), req.UserID, req.MemoryID); err != nil {
		fail(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "Deleted RAG file " + req.MemoryID + " successfully"})
}

func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.svc.ListAgents(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		fail(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"agents": agents})
}
