// Package api implements the relay-API face from spec §4.11: an
// HTTP/JSON request-response surface over resources named by buffer id,
// plus a POST /sync opt-in that turns the same connection into a push
// stream of buffer/nicklist events until torn down.
//
// Grounded on irc/server/botapi.go's echo.Echo wiring (routes, JSON
// request bodies, bearer-token auth via authenticateRequest), extended
// with the streaming-push half spec §4.11/§6 requires that BotAPI (pure
// request/response) does not have. Request validation is adapted from
// echovalidator, metrics from echoprom — an echo.Echo-based face gets its
// validation and instrumentation from echo middleware, not hand-rolled
// checks.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/weecore/weecore/internal/buffer"
	"github.com/weecore/weecore/internal/echoprom"
	"github.com/weecore/weecore/internal/echovalidator"
)

var (
	pushFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weecore_relay_api_push_frames_total",
		Help: "Total number of server-push frames written to relay-API sync streams.",
	})
	syncClientsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weecore_relay_api_sync_clients",
		Help: "Number of relay-API connections currently streaming via /sync.",
	})
)

// Colors is the sync-time color rendering choice (spec §4.11).
type Colors string

const (
	ColorsANSI     Colors = "ansi"
	ColorsWeeChat  Colors = "weechat"
	ColorsStripped Colors = "strip"
)

// SyncRequest is the POST /sync body.
type SyncRequest struct {
	Nicks  bool   `json:"nicks"`
	Input  bool   `json:"input"`
	Colors Colors `json:"colors" validate:"omitempty,oneof=ansi weechat strip"`
}

// InputRequest is the POST /input body: text typed as if on the named
// buffer (spec §4.11 "/input").
type InputRequest struct {
	BufferID uint64 `json:"buffer_id" validate:"required"`
	Data     string `json:"data" validate:"required"`
}

// BufferView is the wire shape for GET /buffers and /buffers/:id.
type BufferView struct {
	ID     uint64 `json:"id"`
	Plugin string `json:"plugin"`
	Name   string `json:"name"`
}

// LineView is the wire shape for GET /buffers/:id/lines.
type LineView struct {
	ID      uint64   `json:"id"`
	Date    string   `json:"date"`
	Prefix  string   `json:"prefix"`
	Message string   `json:"message"`
	Tags    []string `json:"tags,omitempty"`
}

// PushEnvelope is one server-sent frame on a /sync stream (spec §4.11
// "{event-name, buffer-id if applicable, payload}").
type PushEnvelope struct {
	Event    string      `json:"event"`
	BufferID uint64      `json:"buffer_id,omitempty"`
	Payload  interface{} `json:"payload"`
}

// BufferSource abstracts the runtime's buffer registry enough for this
// face to render resources without importing ircsession/runtime.
type BufferSource interface {
	BufferByID(id uint64) (*buffer.Buffer, bool)
	AllBuffers() []uint64
	InputEngine() func(id uint64, text string) error
}

// SignalSource is the minimal slice of *relay.Listener this face
// subscribes to for push frames.
type SignalSource interface {
	Subscribe(onLine func(bufferID uint64, line *buffer.Line), onNicklist func(bufferID uint64, nick string, added bool)) (unsubscribe func())
}

// Face is the relay-API HTTP server.
type Face struct {
	Echo   *echo.Echo
	Token  string
	Source BufferSource
	Bus    SignalSource

	mu        sync.Mutex
	syncCount int
}

// NewFace builds an echo-backed relay-API face, token-gated, with request
// validation and per-route Prometheus instrumentation.
func NewFace(token string, src BufferSource, bus SignalSource) *Face {
	e := echo.New()
	e.HideBanner = true
	e.Validator = echovalidator.New()

	f := &Face{Echo: e, Token: token, Source: src, Bus: bus}

	e.Use(echoprom.Middleware())
	e.Use(f.authMiddleware)
	e.GET("/buffers", f.listBuffers)
	e.GET("/buffers/:id", f.getBuffer)
	e.GET("/buffers/:id/lines", f.getLines)
	e.GET("/buffers/:id/nicks", f.getNicks)
	e.POST("/input", f.postInput)
	e.POST("/sync", f.postSync)

	return f
}

// Start begins serving on addr; blocks until the server stops.
func (f *Face) Start(addr string) error { return f.Echo.Start(addr) }

// Stop shuts the HTTP server down.
func (f *Face) Stop() error { return f.Echo.Close() }

func (f *Face) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		presented := strings.TrimPrefix(header, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(f.Token)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		return next(c)
	}
}

func (f *Face) listBuffers(c echo.Context) error {
	var out []BufferView
	for _, id := range f.Source.AllBuffers() {
		buf, ok := f.Source.BufferByID(id)
		if !ok {
			continue
		}
		out = append(out, BufferView{ID: id, Plugin: buf.Plugin, Name: buf.Name})
	}
	return c.JSON(http.StatusOK, out)
}

func (f *Face) bufferID(c echo.Context) (uint64, *buffer.Buffer, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return 0, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid buffer id")
	}
	buf, ok := f.Source.BufferByID(id)
	if !ok {
		return 0, nil, echo.NewHTTPError(http.StatusNotFound, "no such buffer")
	}
	return id, buf, nil
}

func (f *Face) getBuffer(c echo.Context) error {
	id, buf, err := f.bufferID(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, BufferView{ID: id, Plugin: buf.Plugin, Name: buf.Name})
}

func (f *Face) getLines(c echo.Context) error {
	_, buf, err := f.bufferID(c)
	if err != nil {
		return err
	}
	lines := buf.Lines()
	out := make([]LineView, len(lines))
	for i, l := range lines {
		out[i] = LineView{ID: l.ID, Date: l.Date.Format("2006-01-02T15:04:05"), Prefix: l.Prefix, Message: l.Message, Tags: l.Tags}
	}
	return c.JSON(http.StatusOK, out)
}

func (f *Face) getNicks(c echo.Context) error {
	_, _, err := f.bufferID(c)
	if err != nil {
		return err
	}
	// Nick lists are not served: BufferSource has no nick lookup, so this
	// handler returns an empty list for every existing buffer.
	return c.JSON(http.StatusOK, []string{})
}

func (f *Face) postInput(c echo.Context) error {
	var req InputRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	input := f.Source.InputEngine()
	if input == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "input engine not wired")
	}
	if err := input(req.BufferID, req.Data); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// postSync opts this connection into server push (spec §4.11): it writes
// the initial 200 response, then streams PushEnvelope frames as
// newline-delimited JSON until the client disconnects or teardown.
func (f *Face) postSync(c echo.Context) error {
	var req SyncRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	resp.WriteHeader(http.StatusOK)

	f.mu.Lock()
	f.syncCount++
	syncClientsGauge.Set(float64(f.syncCount))
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.syncCount--
		syncClientsGauge.Set(float64(f.syncCount))
		f.mu.Unlock()
	}()

	write := func(env PushEnvelope) {
		b, err := json.Marshal(env)
		if err != nil {
			return
		}
		if _, werr := resp.Write(append(b, '\n')); werr != nil {
			return
		}
		resp.Flush()
		pushFramesTotal.Inc()
	}

	// Buffer line events are always part of a sync stream; nicklist events
	// are opt-in per req.Nicks (spec §4.11).
	unsub := f.Bus.Subscribe(
		func(bufferID uint64, line *buffer.Line) {
			write(PushEnvelope{Event: "buffer_line_added", BufferID: bufferID, Payload: LineView{
				ID: line.ID, Date: line.Date.Format("2006-01-02T15:04:05"), Prefix: line.Prefix, Message: line.Message, Tags: line.Tags,
			}})
		},
		func(bufferID uint64, nick string, added bool) {
			if !req.Nicks {
				return
			}
			event := "nicklist_remove"
			if added {
				event = "nicklist_add"
			}
			write(PushEnvelope{Event: event, BufferID: bufferID, Payload: nick})
		},
	)
	defer unsub()

	<-c.Request().Context().Done()
	write(PushEnvelope{Event: "quit", Payload: "relay-api: connection closing"})
	return nil
}
