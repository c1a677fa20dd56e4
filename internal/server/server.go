package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/HynixCorp/reach-backend-sub000/internal/achievements"
	"github.com/HynixCorp/reach-backend-sub000/internal/server/middleware"
	"github.com/HynixCorp/reach-backend-sub000/internal/session"
	"github.com/HynixCorp/reach-backend-sub000/pkg/config"
	"github.com/HynixCorp/reach-backend-sub000/pkg/overlay"
	"github.com/HynixCorp/reach-backend-sub000/pkg/transport"
)

// App wires the overlay hub, the session router, and the HTTP surface
// together and owns their lifecycle.
type App struct {
	logger       *slog.Logger
	hub          *overlay.Hub
	sessions     *session.Router
	achievements *achievements.Service
	wg           sync.WaitGroup
	http         *http.Server
	config       *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, hub *overlay.Hub, sessions *session.Router, achSvc *achievements.Service) *App {
	app := &App{
		logger:       logger,
		hub:          hub,
		sessions:     sessions,
		achievements: achSvc,
		config:       cfg,
		ctx:          rootCtx,
	}

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	cycler := func(ip string) {
		sessions.CloseOldestByIP(ip, errors.New("connection cycled by new connection"))
	}
	mux.Handle("GET /ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewConnectionLimiter(
				logger,
				sessions.CountByIP,
				cycler,
				cfg.Server.ConnectionLimit,
			),
		),
	)
	app.registerAPIRoutes(mux)

	app.http = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}
	return app
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(slog.String("remoteAddr", reqMeta.IP))

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		a.logger,
	)
	// Attach first: the identify event must find the session before any frame
	// is read.
	a.sessions.Attach(conn, reqMeta.IP)
	conn.SetOnMessageHandler(a.sessions.HandleMessage)
	conn.SetOnCloseHandler(a.sessions.HandleClose)

	connLogger.Info("Overlay connection established", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}

// Shutdown runs the graceful teardown sequence: stop accepting requests,
// close all live overlay connections, then wait for the hub's in-flight
// snapshot writes.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	a.logger.Info("Closing all active connections...")
	a.sessions.CloseAll(errors.New("graceful shutdown"))
	a.wg.Wait()
	a.hub.Close()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
