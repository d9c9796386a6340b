// Command wsmirror connects to a workspace authority, keeps a mirror of its
// frames and workspaces, and serves a read-mostly inspection API.
//
//	wsmirror -config workspaces.yaml
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hazyhaar/pkg/dbopen"
	"github.com/hazyhaar/pkg/observability"
	"github.com/hazyhaar/pkg/shield"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/workspaces"
	"github.com/hazyhaar/workspaces/contract"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config selecting a websocket or mcp bus (required)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(2)
	}
	lvl, err := workspaces.ParseLevel(cfg.LogLevel)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("wsmirror", "error", err)
		os.Exit(1)
	}
	slog.Info("wsmirror stopped")
}

// loadConfig reads the config at path. wsmirror only dials remote buses,
// so a missing path or a local bus is rejected.
func loadConfig(path string) (*workspaces.Config, error) {
	if path == "" {
		return nil, errors.New("-config is required: the default local bus has no authority to dial")
	}
	cfg, err := workspaces.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if cfg.Bus.Kind == workspaces.BusLocal {
		return nil, fmt.Errorf("bus.kind %q cannot be dialed from wsmirror; use websocket or mcp", cfg.Bus.Kind)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *workspaces.Config, logger *slog.Logger) error {
	client, err := workspaces.Open(ctx, cfg, workspaces.WithLogger(logger))
	if err != nil {
		return err
	}
	defer client.Close()

	journal := func(entity, id, action string) {}
	if path := cfg.Observability.DBPath; path != "" {
		db, err := dbopen.Open(path, dbopen.WithMkdirAll())
		if err != nil {
			return err
		}
		defer db.Close()
		if err := observability.Init(db); err != nil {
			return err
		}
		events := observability.NewEventLogger(db)
		journal = func(entity, id, action string) {
			events.LogEvent(ctx, observability.BusinessEvent{
				EventType:   entity + "." + action,
				ServiceName: "wsmirror",
				EntityType:  entity,
				EntityID:    id,
				Action:      action,
				Success:     true,
			})
		}
		hb := observability.NewHeartbeatWriter(db, "wsmirror", cfg.Observability.Heartbeat)
		hb.Start(ctx)
		defer hb.Stop()
	}

	offOpened, err := client.OnWorkspaceOpened(ctx, func(ws *workspaces.Workspace) {
		logger.Info("workspace opened", "workspace", ws.ID(), "title", ws.Title(), "windows", len(ws.Windows()))
		journal("workspace", ws.ID(), contract.ActionOpened)
	})
	if err != nil {
		return err
	}
	defer offOpened()
	offClosed, err := client.OnWorkspaceClosed(ctx, func(ev workspaces.WorkspaceClosed) {
		logger.Info("workspace closed", "workspace", ev.WorkspaceID, "frame", ev.FrameID)
		journal("workspace", ev.WorkspaceID, contract.ActionClosed)
	})
	if err != nil {
		return err
	}
	defer offClosed()
	offRemoved, err := client.OnWindowRemoved(ctx, func(ev workspaces.WindowRemoved) {
		journal("window", ev.PlacementID, contract.ActionRemoved)
	})
	if err != nil {
		return err
	}
	defer offRemoved()

	srv := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           routes(client),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("wsmirror listening", "addr", srv.Addr, "bus", cfg.Bus.Kind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type workspaceView struct {
	ID          string `json:"id"`
	FrameID     string `json:"frameId"`
	Title       string `json:"title"`
	LayoutName  string `json:"layoutName,omitempty"`
	Selected    bool   `json:"selected"`
	Hibernated  bool   `json:"hibernated"`
	WindowCount int    `json:"windowCount"`
}

func viewOf(ws *workspaces.Workspace) workspaceView {
	return workspaceView{
		ID:          ws.ID(),
		FrameID:     ws.FrameID(),
		Title:       ws.Title(),
		LayoutName:  ws.LayoutName(),
		Selected:    ws.IsSelected(),
		Hibernated:  ws.IsHibernated(),
		WindowCount: len(ws.Windows()),
	}
}

func routes(c *workspaces.Client) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultBOStack() {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/frames", func(w http.ResponseWriter, r *http.Request) {
		frames, err := c.GetAllFrames(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]contract.FrameSummary, 0, len(frames))
		for _, f := range frames {
			out = append(out, f.Summary())
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Route("/workspaces", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			list, err := c.GetAllWorkspaces(r.Context())
			if err != nil {
				writeError(w, r, err)
				return
			}
			out := make([]workspaceView, 0, len(list))
			for _, ws := range list {
				out = append(out, viewOf(ws))
			}
			writeJSON(w, http.StatusOK, out)
		})
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			ws, err := c.GetWorkspaceByID(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeError(w, r, err)
				return
			}
			snap, err := ws.Snapshot(r.Context())
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, snap)
		})
		r.Post("/{id}/focus", func(w http.ResponseWriter, r *http.Request) {
			ws, err := c.GetWorkspaceByID(r.Context(), chi.URLParam(r, "id"))
			if err == nil {
				err = ws.Focus(r.Context())
			}
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, viewOf(ws))
		})
	})

	r.Route("/layouts", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			list, err := c.Layouts().List(r.Context())
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, list)
		})
		r.Post("/{name}/restore", func(w http.ResponseWriter, r *http.Request) {
			ws, err := c.RestoreWorkspace(r.Context(), chi.URLParam(r, "name"), nil)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, viewOf(ws))
		})
	})

	r.Get("/subscriptions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, c.ActiveSubscriptions())
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		pe *contract.ProgrammingError
		re *contract.RemoteOperationError
		ue *contract.UnsupportedError
	)
	code := http.StatusBadGateway
	switch {
	case errors.Is(err, workspaces.ErrNotFound):
		code = http.StatusNotFound
	case errors.As(err, &pe):
		code = http.StatusBadRequest
	case errors.As(err, &re):
		code = http.StatusConflict
	case errors.As(err, &ue):
		code = http.StatusNotImplemented
	}
	shield.GetLogger(r.Context()).Warn("request failed", "status", code, "error", err)
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
