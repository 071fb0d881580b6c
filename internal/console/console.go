// Package console is the admin dashboard: read-only HTML/JSON views of
// connected servers, channels, and relay clients, gated behind Google
// OpenID login when configured (spec §6 external interfaces, ambient
// stack). Grounded on irc/admind/server.go + irc/admind/admin.go's route
// set (home/stats/channels/clients/api-stats), rehomed from a bare
// net/http.ServeMux onto gorilla/mux so it can sit next to other routed
// surfaces in the same process, with the handlers themselves written
// against echo.Context (like the relay-API face) and bridged in with
// adapted internal/echo2gorilla rather than duplicated as raw
// http.HandlerFuncs.
package console

import (
	"context"
	"html/template"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/labstack/echo/v4"

	"github.com/weecore/weecore/internal/echo2gorilla"
	"github.com/weecore/weecore/internal/echogoog"
)

// ServerSummary is one configured IRC network, as shown on the dashboard.
type ServerSummary struct {
	Name        string
	Connected   bool
	CurrentNick string
	Lag         time.Duration
}

// ChannelSummary is one joined channel on some server.
type ChannelSummary struct {
	Server    string
	Name      string
	Topic     string
	UserCount int
	Operators []string
}

// RelayClientSummary is one connected relay client.
type RelayClientSummary struct {
	ID         string
	RemoteAddr string
	State      string
	Since      time.Time
}

// Source is the read-only view of runtime state the console renders.
// Kept narrow and interface-typed, like internal/relay/api.BufferSource,
// so this package never imports internal/runtime.
type Source interface {
	Servers() []ServerSummary
	Channels() []ChannelSummary
	RelayClients() []RelayClientSummary
}

// Config configures the console's listener and, optionally, OIDC login.
type Config struct {
	Address string

	// OIDC, if non-nil, requires a logged-in session for every admin
	// route. A nil OIDC means the console trusts its own network
	// exposure (e.g. bound to localhost or a private interface).
	OIDC *echogoog.Config
}

// Server is the console's HTTP surface.
type Server struct {
	cfg    Config
	source Source

	echo   *echo.Echo
	oidc   *echogoog.Middleware
	router *mux.Router
	http   *http.Server
}

// New builds a console Server. If cfg.OIDC is set, login/callback/logout
// routes are registered and every admin route requires an authenticated
// session (mirroring irc/admind/server.go's authMiddleware-wraps-mux
// shape, but expressed as an echo middleware instead of a raw
// http.Handler wrapper).
func New(cfg Config, source Source) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		source: source,
		echo:   echo.New(),
		router: mux.NewRouter(),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true

	if cfg.OIDC != nil {
		mw, err := echogoog.New(cfg.OIDC)
		if err != nil {
			return nil, err
		}
		s.oidc = mw
		mw.RegisterRoutes(s.echo)
	}

	s.routes()
	return s, nil
}

// routes mounts every admin handler onto the gorilla router via adapted
// echo2gorilla, each wrapped with the OIDC gate when one is configured.
// The handlers themselves stay echo.HandlerFunc so they read and test
// exactly like the relay-API face's, even though gorilla (not echo)
// owns the actual listener here.
func (s *Server) routes() {
	mount := func(path string, h echo.HandlerFunc) {
		s.router.HandleFunc(path, echo2gorilla.HandlerFunc(s.protect(h))).Methods(http.MethodGet)
	}
	mount("/", s.handleHome)
	mount("/servers", s.handleServers)
	mount("/channels", s.handleChannels)
	mount("/clients", s.handleClients)
	mount("/api/stats", s.handleAPIStats)

	if s.oidc != nil {
		s.oidc.RegisterRoutes(s.echo)
		for _, route := range s.echo.Routes() {
			s.router.HandleFunc(route.Path, echo2gorilla.HandlerFunc(s.echoDispatch)).Methods(http.MethodGet, http.MethodPost)
		}
	}
}

// echoDispatch runs the request through the echo engine directly, used
// for the login/callback/logout routes echogoog registers on s.echo
// (those need echo's own router to find the right handler; the admin
// routes above don't, since console.Server already knows which handler
// each of its own paths maps to).
func (s *Server) echoDispatch(c echo.Context) error {
	s.echo.ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *Server) protect(h echo.HandlerFunc) echo.HandlerFunc {
	if s.oidc == nil {
		return h
	}
	return s.oidc.Protect()(h)
}

// Start begins serving on cfg.Address. It returns once the listener is
// up; shutdown errors surface asynchronously and are not reported here,
// matching irc/admind/server.go's StartAdminServer.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.router,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-time.After(50 * time.Millisecond):
	}
	return nil
}

// Stop gracefully shuts the console down.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHome(c echo.Context) error {
	servers := s.source.Servers()
	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })
	return c.HTML(http.StatusOK, renderTemplate("home", homeTemplate, struct {
		Servers []ServerSummary
	}{servers}))
}

func (s *Server) handleServers(c echo.Context) error {
	return c.JSON(http.StatusOK, s.source.Servers())
}

func (s *Server) handleChannels(c echo.Context) error {
	channels := s.source.Channels()
	sort.Slice(channels, func(i, j int) bool { return channels[i].Name < channels[j].Name })
	return c.HTML(http.StatusOK, renderTemplate("channels", channelsTemplate, struct {
		Channels []ChannelSummary
	}{channels}))
}

func (s *Server) handleClients(c echo.Context) error {
	clients := s.source.RelayClients()
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return c.JSON(http.StatusOK, clients)
}

type apiStats struct {
	ServerCount  int `json:"server_count"`
	ChannelCount int `json:"channel_count"`
	ClientCount  int `json:"client_count"`
}

func (s *Server) handleAPIStats(c echo.Context) error {
	return c.JSON(http.StatusOK, apiStats{
		ServerCount:  len(s.source.Servers()),
		ChannelCount: len(s.source.Channels()),
		ClientCount:  len(s.source.RelayClients()),
	})
}

const homeTemplate = `<!DOCTYPE html>
<html><head><title>weecore admin</title></head>
<body>
<h1>weecore</h1>
<ul>
{{range .Servers}}<li>{{.Name}} {{if .Connected}}connected as {{.CurrentNick}}{{else}}disconnected{{end}}</li>{{end}}
</ul>
</body></html>`

const channelsTemplate = `<!DOCTYPE html>
<html><head><title>channels</title></head>
<body>
<table>
<tr><th>server</th><th>channel</th><th>users</th><th>topic</th></tr>
{{range .Channels}}<tr><td>{{.Server}}</td><td>{{.Name}}</td><td>{{.UserCount}}</td><td>{{.Topic}}</td></tr>{{end}}
</table>
</body></html>`

func renderTemplate(name, body string, data interface{}) string {
	tmpl := template.Must(template.New(name).Parse(body))
	var buf templateBuffer
	_ = tmpl.Execute(&buf, data)
	return buf.String()
}

// templateBuffer is a minimal io.Writer so renderTemplate doesn't pull in
// bytes.Buffer's wider surface for a single Execute call.
type templateBuffer struct {
	s string
}

func (b *templateBuffer) Write(p []byte) (int, error) {
	b.s += string(p)
	return len(p), nil
}

func (b *templateBuffer) String() string { return b.s }
