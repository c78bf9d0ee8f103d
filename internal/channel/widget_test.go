package channel

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/cognicrew/crewdesk/internal/agent"
	"github.com/cognicrew/crewdesk/internal/bus"
	"github.com/cognicrew/crewdesk/internal/config"
	"github.com/cognicrew/crewdesk/internal/desk"
)

type fakeRunner struct {
	switchTo string
	// slow delays the turn for this message.
	slow  string
	delay time.Duration
}

func (f *fakeRunner) WidgetAgent(_ context.Context, accountID, department, apiKey string) (agent.Agent, error) {
	if department != "Support" {
		return agent.Agent{}, agent.ErrAgentNotFound
	}
	if apiKey != "good" {
		return agent.Agent{}, desk.ErrInvalidAPIKey
	}
	return agent.Agent{ID: "a1", Name: "Bob", Department: "Support"}, nil
}

func (f *fakeRunner) WidgetTurn(ctx context.Context, req desk.WidgetTurnRequest) (*desk.Reply, error) {
	if _, err := f.WidgetAgent(ctx, req.AccountID, req.Department, req.APIKey); err != nil {
		return nil, err
	}
	if f.slow != "" && req.Message == f.slow {
		time.Sleep(f.delay)
	}
	return &desk.Reply{
		AgentID:          "a1",
		AgentName:        "Bob",
		Response:         "Bob: you said " + req.Message + " after " + string(rune('0'+len(req.History))),
		SwitchedLanguage: f.switchTo,
	}, nil
}

func startWidget(t *testing.T, inactivity string, runner TurnRunner) (*WidgetChannel, *bus.MessageBus, string) {
	t.Helper()
	b := bus.NewMessageBus(8)
	w := NewWidgetChannel(config.WidgetConfig{Enabled: true, InactivityTimeout: inactivity, DefaultPlatform: "zoho desk"},
		[]string{"English", "French"}, runner, b)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(w)
	t.Cleanup(func() {
		w.Stop()
		srv.Close()
	})
	return w, b, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, f clientFrame) {
	t.Helper()
	data, _ := json.Marshal(f)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) serverFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f serverFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return f
}

func waitEnded(t *testing.T, b *bus.MessageBus) bus.SessionEnded {
	t.Helper()
	select {
	case ev := <-b.Ended:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no SessionEnded published")
	}
	return bus.SessionEnded{}
}

func TestWidgetRejectsBadKey(t *testing.T) {
	_, _, url := startWidget(t, "5m", &fakeRunner{})
	conn := dial(t, url)

	writeFrame(t, conn, clientFrame{Type: "start", AccountID: "acct", Department: "Support", APIKey: "bad"})
	if f := readFrame(t, conn); f.Type != "error" || f.Content != "Invalid API key" {
		t.Fatalf("frame = %+v", f)
	}
	writeFrame(t, conn, clientFrame{Type: "message", Content: "hi"})
	if f := readFrame(t, conn); f.Type != "error" || f.Content != "session not started" {
		t.Fatalf("frame = %+v", f)
	}
}

func TestWidgetConversationAndEnd(t *testing.T) {
	_, b, url := startWidget(t, "5m", &fakeRunner{})
	conn := dial(t, url)

	writeFrame(t, conn, clientFrame{Type: "start", AccountID: "acct", Department: "Support", APIKey: "good", CustomerName: "Alice", CustomerEmail: "a@example.com"})
	started := readFrame(t, conn)
	if started.Type != "started" || started.Agent != "Bob" || started.SessionID == "" {
		t.Fatalf("frame = %+v", started)
	}

	writeFrame(t, conn, clientFrame{Type: "message", Content: "hi"})
	if f := readFrame(t, conn); f.Type != "message" || f.Content != "Bob: you said hi after 0" {
		t.Fatalf("frame = %+v", f)
	}
	writeFrame(t, conn, clientFrame{Type: "message", Content: "again"})
	if f := readFrame(t, conn); f.Content != "Bob: you said again after 2" {
		t.Fatalf("history not carried: %+v", f)
	}

	writeFrame(t, conn, clientFrame{Type: "end"})
	ev := waitEnded(t, b)
	if ev.Channel != WidgetChannelName || ev.SessionID != started.SessionID || ev.AgentID != "a1" || ev.Reason != "ended" {
		t.Fatalf("event = %+v", ev)
	}
	if len(ev.Turns) != 4 || ev.Turns[0].Role != agent.RoleUser || ev.Turns[1].Content != "Bob: you said hi after 0" {
		t.Fatalf("turns = %+v", ev.Turns)
	}
	if ev.CustomerName != "Alice" || ev.Platform != "zoho desk" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestWidgetLanguageSwitchAndTicketResult(t *testing.T) {
	_, b, url := startWidget(t, "5m", &fakeRunner{switchTo: "French"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchResults(ctx)

	conn := dial(t, url)
	writeFrame(t, conn, clientFrame{Type: "start", AccountID: "acct", Department: "Support", APIKey: "good"})
	started := readFrame(t, conn)

	writeFrame(t, conn, clientFrame{Type: "message", Content: "switch to french"})
	readFrame(t, conn)
	if f := readFrame(t, conn); f.Type != "language" || f.Content != "French" {
		t.Fatalf("frame = %+v", f)
	}

	writeFrame(t, conn, clientFrame{Type: "end"})
	waitEnded(t, b)
	b.Results <- bus.TicketResult{Channel: WidgetChannelName, SessionID: started.SessionID, TicketID: "T-7", Created: true}
	if f := readFrame(t, conn); f.Type != "ticket" || f.TicketID != "T-7" {
		t.Fatalf("frame = %+v", f)
	}
}

func TestWidgetInactivityEndsSession(t *testing.T) {
	_, b, url := startWidget(t, "100ms", &fakeRunner{})
	conn := dial(t, url)

	writeFrame(t, conn, clientFrame{Type: "start", AccountID: "acct", Department: "Support", APIKey: "good"})
	readFrame(t, conn)
	writeFrame(t, conn, clientFrame{Type: "message", Content: "hi"})
	readFrame(t, conn)

	ev := waitEnded(t, b)
	if ev.Reason != "inactivity" || len(ev.Turns) != 2 {
		t.Fatalf("event = %+v", ev)
	}
}

func TestWidgetInactivityWaitsForRunningTurn(t *testing.T) {
	_, b, url := startWidget(t, "250ms", &fakeRunner{slow: "where is my parcel", delay: 750 * time.Millisecond})
	conn := dial(t, url)

	writeFrame(t, conn, clientFrame{Type: "start", AccountID: "acct", Department: "Support", APIKey: "good"})
	readFrame(t, conn)
	writeFrame(t, conn, clientFrame{Type: "message", Content: "hi"})
	readFrame(t, conn)
	writeFrame(t, conn, clientFrame{Type: "message", Content: "where is my parcel"})
	if f := readFrame(t, conn); f.Type != "message" || f.Content != "Bob: you said where is my parcel after 2" {
		t.Fatalf("frame = %+v", f)
	}

	ev := waitEnded(t, b)
	if ev.Reason != "inactivity" || len(ev.Turns) != 4 {
		t.Fatalf("event = %+v", ev)
	}
	select {
	case extra := <-b.Ended:
		t.Fatalf("session filed twice: %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWidgetDisconnectEndsSessionOnce(t *testing.T) {
	_, b, url := startWidget(t, "5m", &fakeRunner{})
	conn := dial(t, url)

	writeFrame(t, conn, clientFrame{Type: "start", AccountID: "acct", Department: "Support", APIKey: "good"})
	readFrame(t, conn)
	writeFrame(t, conn, clientFrame{Type: "message", Content: "hi"})
	readFrame(t, conn)
	writeFrame(t, conn, clientFrame{Type: "end"})
	waitEnded(t, b)

	conn.Close(websocket.StatusNormalClosure, "bye")
	select {
	case ev := <-b.Ended:
		t.Fatalf("session filed twice: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}
