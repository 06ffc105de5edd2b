// Package server orchestrates all components: NATS client, permissions, catalog, engine, HTTP health.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/service-engine/internal/config"
	"github.com/morezero/service-engine/pkg/catalog"
	"github.com/morezero/service-engine/pkg/commsutil"
	"github.com/morezero/service-engine/pkg/db"
	"github.com/morezero/service-engine/pkg/engine"
	"github.com/morezero/service-engine/pkg/events"
	"github.com/morezero/service-engine/pkg/permissions"
	"github.com/morezero/service-engine/pkg/policy"
)

const logPrefix = "server:server"

// Server is the service-engine orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	pool       *pgxpool.Pool
	httpServer *http.Server
	cat        *catalog.Catalog
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	// Setup structured logging
	var logLevel slog.Level
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}

	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info(fmt.Sprintf("%s - Starting service-engine", logPrefix))

	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Server{cfg: cfg}

	// Step 1: Build the permission manager
	var perms engine.PermissionManager
	switch cfg.PermissionSource {
	case "database":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		s.pool = pool

		if cfg.RunMigrations {
			migrations, err := db.LoadMigrations(cfg.MigrationPath)
			if err != nil {
				pool.Close()
				return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, migrations); err != nil {
				pool.Close()
				return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
			}
			if err := db.SeedPolicy(ctx, pool, cfg.PolicyFile); err != nil {
				pool.Close()
				return fmt.Errorf("%s - failed to seed policy rules: %w", logPrefix, err)
			}
		}

		manager := permissions.NewDatabase(db.NewRepository(pool), cfg.DefaultAllow)
		if err := manager.Reload(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("%s - failed to load permission rules: %w", logPrefix, err)
		}
		perms = manager
	default:
		pol, err := policy.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return fmt.Errorf("%s - failed to load access policy: %w", logPrefix, err)
		}
		slog.Info(fmt.Sprintf("%s - Access policy: %s", logPrefix, pol.Name))
		perms = pol.Manager()
	}

	// Step 2: Catalog with builtin services, engine on top
	cat := catalog.New()
	if err := registerBuiltins(cat); err != nil {
		s.close()
		return fmt.Errorf("%s - failed to register builtin services: %w", logPrefix, err)
	}
	s.cat = cat
	eng := engine.New(cat, perms)

	// Components available to service factories
	components := map[string]interface{}{
		"catalog": cat,
	}
	if s.pool != nil {
		components["db"] = s.pool
	}
	locator := engine.LocatorFunc(func(_ context.Context, name string) (interface{}, error) {
		v, ok := components[name]
		if !ok {
			return nil, fmt.Errorf("unknown component: %s", name)
		}
		return v, nil
	})

	// Step 3: Connect to NATS
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		s.close()
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	s.nc = nc

	publisherOpts := &events.CommsPublisherOpts{}
	if cfg.EventSubject != "" {
		publisherOpts.GlobalEventSubject = cfg.EventSubject
	}
	publisher := events.NewCommsPublisher(nc, publisherOpts)

	// Step 4: Subscribe to the dispatch subject
	dispatchSubject := cfg.DispatchSubject
	if dispatchSubject == "" {
		dispatchSubject = commsutil.SubjectDispatch
	}
	codec := engine.JSONCodec{}
	requestTimeout := cfg.RequestTimeout

	dispatchSub, err := nc.Subscribe(dispatchSubject, func(msg *comms.Msg) {
		principal := commsutil.DecodePrincipal(msg.Header)

		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		start := time.Now()
		resp, err := eng.Dispatch(reqCtx, locator, codec, codec, principal, msg.Data)
		if err != nil {
			// Security-classified failures reach this trust boundary
			// unchanged. The reason stays in the log; callers get the same
			// terse refusal an authorization denial produces.
			slog.Warn(fmt.Sprintf("%s - security failure principal=%s: %v", logPrefix, principal.Name, err))
			resp = &engine.ResultEnvelope{Status: engine.StatusForbidden, Message: requestedService(msg.Data)}
		}

		data, encErr := json.Marshal(resp)
		if encErr != nil {
			slog.Error(fmt.Sprintf("%s - failed to encode response: %v", logPrefix, encErr))
			return
		}
		msg.Respond(data)

		app, service := splitIdentifier(requestedService(msg.Data))
		if pubErr := publisher.PublishDispatched(reqCtx, &events.ServiceDispatchedEvent{
			App:        app,
			Service:    service,
			Status:     string(resp.Status),
			Principal:  principal.Name,
			DurationMs: time.Since(start).Milliseconds(),
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			Env:        cfg.Environment,
		}); pubErr != nil {
			slog.Warn(fmt.Sprintf("%s - failed to publish dispatch event: %v", logPrefix, pubErr))
		}
	})
	if err != nil {
		s.close()
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, dispatchSubject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, dispatchSubject))

	// Step 5: Subscribe to the catalog subject (returns the dispatchable surface)
	catalogSubject := cfg.CatalogSubject
	if catalogSubject == "" {
		catalogSubject = commsutil.SubjectCatalog
	}
	catalogSub, err := nc.Subscribe(catalogSubject, func(msg *comms.Msg) {
		data, err := json.Marshal(cat.Services())
		if err != nil {
			slog.Error(fmt.Sprintf("%s - catalog response encode: %v", logPrefix, err))
			return
		}
		msg.Respond(data)
	})
	if err != nil {
		dispatchSub.Unsubscribe()
		s.close()
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, catalogSubject, err)
	}
	defer catalogSub.Unsubscribe()
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, catalogSubject))

	// Step 6: Start HTTP health server
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/service/", s.handleServiceDetail())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		healthCtx, cancel := context.WithTimeout(r.Context(), cfg.HealthCheckTimeout)
		defer cancel()
		h := s.health(healthCtx)
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})

	httpAddr := cfg.HTTPAddr
	if httpAddr == "" {
		httpAddr = fmt.Sprintf(":%d", cfg.HTTPPort)
	}
	s.httpServer = &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - Service-engine is ready (%d services registered)", logPrefix, cat.Len()))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	// Graceful shutdown
	dispatchSub.Unsubscribe()
	s.httpServer.Shutdown(ctx)
	nc.Drain()
	if s.pool != nil {
		s.pool.Close()
	}

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

func (s *Server) close() {
	if s.nc != nil {
		s.nc.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// requestedService extracts the service name from a raw dispatch payload for
// event reporting. Undecodable payloads yield an empty name.
func requestedService(raw []byte) string {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return ""
	}
	return req.Name
}

// splitIdentifier splits "app.name" into its app and name parts. References
// without a dot land entirely in the name part.
func splitIdentifier(identifier string) (app, name string) {
	if idx := strings.Index(identifier, "@"); idx >= 0 {
		identifier = identifier[:idx]
	}
	idx := strings.Index(identifier, ".")
	if idx < 0 {
		return "", identifier
	}
	return identifier[:idx], identifier[idx+1:]
}

// healthChecks reports per-dependency health.
type healthChecks struct {
	Comms    bool  `json:"comms"`
	Database *bool `json:"database,omitempty"`
}

// healthStatus is the /health response body.
type healthStatus struct {
	Status    string       `json:"status"`
	Checks    healthChecks `json:"checks"`
	Services  int          `json:"services"`
	Timestamp string       `json:"timestamp"`
}

// health checks COMMS connectivity and, when configured, the database.
func (s *Server) health(ctx context.Context) *healthStatus {
	h := &healthStatus{
		Status:    "healthy",
		Services:  s.cat.Len(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	h.Checks.Comms = s.nc != nil && s.nc.Status() == comms.CONNECTED
	if !h.Checks.Comms {
		h.Status = "unhealthy"
	}

	if s.pool != nil {
		ok := s.pool.Ping(ctx) == nil
		h.Checks.Database = &ok
		if !ok {
			h.Status = "unhealthy"
		}
	}
	return h
}

// homePageTemplate is the HTML for the engine home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Service Engine</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2, h3 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
  </style>
</head>
<body>
  <h1>Service Engine</h1>
  <p class="meta">Dispatch health and the registered service surface.</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>COMMS: {{if .Health.Checks.Comms}}<span class="stat">OK</span>{{else}}<span class="status-unhealthy">Failed</span>{{end}}</p>
    {{if .Health.Checks.Database}}
    <p>Database: {{if deref .Health.Checks.Database}}<span class="stat">OK</span>{{else}}<span class="status-unhealthy">Failed</span>{{end}}</p>
    {{end}}
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Services</h2>
    <p>Registered versions: <span class="stat">{{.Health.Services}}</span></p>
    {{if not .Services}}
    <p>No services registered.</p>
    {{else}}
    <table>
      <thead>
        <tr><th>Service</th><th>Version</th><th>Argument</th><th>Result</th><th>Invocable</th></tr>
      </thead>
      <tbody>
        {{range .Services}}
        <tr>
          <td><a href="/service/{{.Service}}">{{.Service}}</a></td>
          <td>{{.Version}}</td>
          <td>{{.Argument}}</td>
          <td>{{.Result}}</td>
          <td>{{if .Invocable}}yes{{else}}no{{end}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Health   *healthStatus
	Services []catalog.ServiceInfo
}

// handleHome returns an HTTP handler for the engine home page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Funcs(template.FuncMap{
		"deref": func(b *bool) bool { return b != nil && *b },
	}).Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{
			Health:   s.health(ctx),
			Services: s.cat.Services(),
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

// serviceDetailPageTemplate is the HTML for a single service detail page.
const serviceDetailPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Identifier}} – Service Engine</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2 { color: #0066cc; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; vertical-align: top; }
    th { background: #f0f4f8; color: #0066cc; }
    section { margin-bottom: 2rem; }
    pre { background: #f5f5f5; padding: 0.75rem; overflow-x: auto; font-size: 0.85rem; margin: 0.25rem 0; border: 1px solid #eee; }
    .back { margin-bottom: 1rem; }
  </style>
</head>
<body>
  <p class="back"><a href="/">← Back to services</a></p>
  <h1>{{.Identifier}}</h1>

  <section>
    <h2>Versions</h2>
    <table>
      <thead>
        <tr><th>Version</th><th>Argument</th><th>Result</th><th>Invocable</th></tr>
      </thead>
      <tbody>
        {{range .Versions}}
        <tr>
          <td>{{.Version}}</td>
          <td>{{.Argument}}</td>
          <td>{{.Result}}</td>
          <td>{{if .Invocable}}yes{{else}}no{{end}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
  </section>

  <section>
    <h2>Invocation</h2>
    <p>Send a request envelope to the dispatch subject:</p>
    <pre>{{.Example}}</pre>
  </section>
</body>
</html>
`

// serviceDetailData is the data passed to the service detail page template.
type serviceDetailData struct {
	Identifier string
	Versions   []catalog.ServiceInfo
	Example    string
}

// handleServiceDetail returns an HTTP handler for per-service detail pages.
func (s *Server) handleServiceDetail() http.HandlerFunc {
	tmpl := template.Must(template.New("serviceDetail").Parse(serviceDetailPageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		identifier := strings.TrimPrefix(r.URL.Path, "/service/")
		if identifier == "" {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		if unescaped, err := url.PathUnescape(identifier); err == nil {
			identifier = unescaped
		}

		var versions []catalog.ServiceInfo
		for _, info := range s.cat.Services() {
			if info.Service == identifier {
				versions = append(versions, info)
			}
		}
		if len(versions) == 0 {
			http.NotFound(w, r)
			return
		}

		example, _ := json.MarshalIndent(engine.ArgumentEnvelope{
			Name: identifier,
			Data: json.RawMessage(`{"argument":"value"}`),
		}, "", "  ")

		data := serviceDetailData{
			Identifier: identifier,
			Versions:   versions,
			Example:    string(example),
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - service detail template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
