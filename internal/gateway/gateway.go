// Package gateway wires storage, retrieval, model and helpdesk clients into
// the desk service and runs its HTTP server, widget channel and jobs.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cognicrew/crewdesk/internal/agent"
	"github.com/cognicrew/crewdesk/internal/api"
	"github.com/cognicrew/crewdesk/internal/bus"
	"github.com/cognicrew/crewdesk/internal/channel"
	"github.com/cognicrew/crewdesk/internal/chat"
	"github.com/cognicrew/crewdesk/internal/config"
	"github.com/cognicrew/crewdesk/internal/cron"
	"github.com/cognicrew/crewdesk/internal/desk"
	"github.com/cognicrew/crewdesk/internal/helpdesk"
	"github.com/cognicrew/crewdesk/internal/llm"
	"github.com/cognicrew/crewdesk/internal/rag"
)

const BackfillJobName = "rag-embedding-backfill"

// Options replace collaborators in tests.
type Options struct {
	Completer  chat.Completer
	Helpdesk   desk.Helpdesk
	Embedder   rag.Embedder
	Directory  agent.Directory
	HTTPClient *http.Client
	SignalChan chan os.Signal
}

type Gateway struct {
	cfg        *config.Config
	engine     *rag.Engine
	pool       *rag.WorkerPool
	library    *rag.Library
	service    *desk.Service
	bus        *bus.MessageBus
	widget     *channel.WidgetChannel
	channels   *channel.ChannelManager
	cron       *cron.Service
	server     *http.Server
	signalChan chan os.Signal
	closeOnce  sync.Once
}

func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg, signalChan: opts.SignalChan}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	engine, err := rag.NewEngine(cfg.Data.DBPath)
	if err != nil {
		return nil, fmt.Errorf("create rag engine: %w", err)
	}
	g.engine = engine

	blobs, err := rag.NewFSBlobStore(filepath.Join(cfg.Data.BlobDir, cfg.Data.Bucket), cfg.Data.PublicBaseURL)
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("create blob store: %w", err)
	}

	embedder := opts.Embedder
	if embedder == nil {
		embedder = rag.NewEmbedder(cfg.Embedding, client)
	}
	g.pool = rag.NewWorkerPool(embedder, cfg.Embedding.Workers)
	cache := rag.NewEmbeddingCache(engine, g.pool)
	retriever := rag.NewRetriever(cache, engine, rag.NewDocumentStore(blobs), cfg.Retrieval.FetchConcurrency)
	g.library = rag.NewLibrary(engine, blobs, g.pool, config.DefaultMaxUploadBytes)

	var completer chat.Completer = opts.Completer
	if completer == nil {
		completer = llm.NewGateway(cfg.LLM, client)
	}
	orchestrator := chat.NewOrchestrator(retriever, completer, cfg.Retrieval.Limit, cfg.Languages)

	var hd desk.Helpdesk = opts.Helpdesk
	if hd == nil {
		hd = helpdesk.NewGateway(cfg.Helpdesk, client)
	}

	directory := opts.Directory
	if directory == nil {
		catalog, err := agent.LoadCatalog(cfg.Agents.CatalogPath)
		if err != nil {
			g.closeStores()
			return nil, fmt.Errorf("load agents: %w", err)
		}
		log.Printf("[gateway] loaded %d agents from %s", catalog.Len(), cfg.Agents.CatalogPath)
		directory = catalog
	}

	g.service = desk.NewService(orchestrator, directory, hd, g.library)
	g.bus = bus.NewMessageBus(bus.DefaultBufSize)

	g.channels = channel.NewChannelManager()
	if cfg.Widget.Enabled {
		g.widget = channel.NewWidgetChannel(cfg.Widget, cfg.Languages, g.service, g.bus)
		if err := g.channels.Register(g.widget); err != nil {
			g.closeStores()
			return nil, err
		}
	}

	g.cron = cron.NewService(filepath.Join(filepath.Dir(cfg.Data.DBPath), "cron", "jobs.json"))
	if cfg.Backfill.Enabled {
		batch := cfg.Backfill.BatchSize
		err := g.cron.AddJob(BackfillJobName, cron.Schedule{Kind: cron.KindCron, Expr: cfg.Backfill.Schedule}, func(ctx context.Context) (string, error) {
			n, err := g.library.Backfill(ctx, batch)
			return fmt.Sprintf("embedded %d documents", n), err
		})
		if err != nil {
			g.closeStores()
			return nil, fmt.Errorf("register backfill job: %w", err)
		}
	}

	var widgetHandler http.Handler
	if g.widget != nil {
		widgetHandler = g.widget
	}
	handler := api.NewHandler(g.service, config.DefaultMaxUploadBytes, cfg.Widget.DefaultPlatform)
	g.server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler.Router(widgetHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// Service exposes the desk service for in-process callers such as the CLI.
func (g *Gateway) Service() *desk.Service { return g.service }

func (g *Gateway) Library() *rag.Library { return g.library }

func (g *Gateway) Engine() *rag.Engine { return g.engine }

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchResults(ctx)
	go g.processLoop(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())
	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}

	ln, err := net.Listen("tcp", g.server.Addr)
	if err != nil {
		g.Shutdown()
		return fmt.Errorf("listen %s: %w", g.server.Addr, err)
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	log.Printf("[gateway] running on %s", ln.Addr())

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}

	select {
	case <-sigCh:
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			g.Shutdown()
			return fmt.Errorf("serve: %w", err)
		}
	}

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

// processLoop files ended channel sessions as tickets and reports back to
// the channel that ended them.
func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case ev := <-g.bus.Ended:
			g.fileSession(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) fileSession(ctx context.Context, ev bus.SessionEnded) {
	log.Printf("[gateway] session %s/%s ended (%s), %d turns", ev.Channel, ev.SessionID, ev.Reason, len(ev.Turns))

	id, created, err := g.service.EndSession(ctx, desk.EndSessionRequest{
		AccountID:       ev.AccountID,
		AgentID:         ev.AgentID,
		Department:      ev.Department,
		Turns:           ev.Turns,
		CustomerName:    ev.CustomerName,
		CustomerEmail:   ev.CustomerEmail,
		DefaultPlatform: ev.Platform,
	})
	res := bus.TicketResult{Channel: ev.Channel, SessionID: ev.SessionID, TicketID: id, Created: created}
	if err != nil {
		log.Printf("[gateway] ticket for session %s failed: %v", ev.SessionID, err)
		res.Err = err.Error()
	} else if created {
		log.Printf("[gateway] ticket %s created for session %s", id, ev.SessionID)
	}

	select {
	case g.bus.Results <- res:
	case <-ctx.Done():
	}
}

func (g *Gateway) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultServerShutdownGrace)
	defer cancel()
	if err := g.server.Shutdown(ctx); err != nil {
		log.Printf("[gateway] http shutdown warning: %v", err)
	}
	_ = g.channels.StopAll()
	g.cron.Stop()
	g.closeStores()
	log.Printf("[gateway] shutdown complete")
	return nil
}

// Close releases stores without starting anything; used by one-shot CLI
// commands.
func (g *Gateway) Close() {
	g.closeStores()
}

func (g *Gateway) closeStores() {
	g.closeOnce.Do(func() {
		if g.pool != nil {
			g.pool.Close()
		}
		if err := g.engine.Close(); err != nil {
			log.Printf("[gateway] close rag engine warning: %v", err)
		}
	})
}
