package relayhttp

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcrelay/relay"
	"github.com/btcsuite/btcrelay/relaydb"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// apiKeyHeader is the header the API key travels in.
const apiKeyHeader = "X-API-Key"

// Config bundles the dependencies of the HTTP boundary.
type Config struct {
	// ListenAddr is the address the server binds to.
	ListenAddr string

	// APIKey guards the /relay routes (via header) and the websocket (via
	// in-band auth) when non-empty. /metrics is served without it. An
	// empty key disables authentication.
	APIKey string

	// Relay is the engine the routes translate to.
	Relay *relay.Relay
}

// Server is the HTTP and websocket boundary of the relay. Every route is a
// thin translation onto a relay or store operation.
type Server struct {
	started uint32 // To be used atomically.
	stopped uint32 // To be used atomically.

	cfg    *Config
	echo   *echo.Echo
	keySum [sha256.Size]byte
}

// New builds an unstarted server from the passed config.
func New(cfg *Config) *Server {
	s := &Server{
		cfg:  cfg,
		echo: echo.New(),
	}
	if cfg.APIKey != "" {
		s.keySum = sha256.Sum256([]byte(cfg.APIKey))
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())

	s.registerRoutes()

	return s
}

// registerRoutes wires every route onto the echo instance.
func (s *Server) registerRoutes() {
	e := s.echo

	api := e.Group("", s.keyAuth)
	api.GET("/relay", s.handleInfo)
	api.GET("/relay/latest/:maxid", s.handleLatestUnder)
	api.POST("/relay/rescan", s.handleRescan)
	api.GET("/relay/outpoint/:hash/:index", s.handleGetOutpoint)
	api.GET("/relay/script/:script", s.handleGetScript)
	api.GET("/relay/request/:id", s.handleGetRequest)
	api.GET("/relay/request", s.handleListRequests)
	api.PUT("/relay/request", s.handlePutRequest)
	api.DELETE("/relay/request", s.handleDeleteRequest)
	api.DELETE("/relay", s.handleWipe)

	// The websocket authenticates in-band after the upgrade, so it sits
	// outside the keyed group.
	e.GET("/ws", s.handleWebsocket)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	if !atomic.CompareAndSwapUint32(&s.started, 0, 1) {
		return nil
	}

	log.Infof("HTTP boundary listening on %s", s.cfg.ListenAddr)

	go func() {
		err := s.echo.Start(s.cfg.ListenAddr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP server exited: %v", err)
		}
	}()

	return nil
}

// Stop drains and shuts down the listener.
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&s.stopped, 0, 1) {
		return nil
	}

	return s.echo.Shutdown(ctx)
}

// Handler exposes the route handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// keyAuth guards routes behind the configured API key. The digest comparison
// runs in constant time.
func (s *Server) keyAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.APIKey == "" {
			return next(c)
		}

		if !s.checkKey(c.Request().Header.Get(apiKeyHeader)) {
			return echo.NewHTTPError(http.StatusUnauthorized,
				"invalid api key")
		}

		return next(c)
	}
}

// checkKey compares the sha256 digest of the presented key against the
// configured one in constant time.
func (s *Server) checkKey(key string) bool {
	sum := sha256.Sum256([]byte(key))

	return subtle.ConstantTimeCompare(sum[:], s.keySum[:]) == 1
}

// mapStoreError translates store sentinels into HTTP errors.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil

	case errors.Is(err, relaydb.ErrRequestNotFound),
		errors.Is(err, relaydb.ErrScriptNotFound),
		errors.Is(err, relaydb.ErrOutpointNotFound):

		return echo.NewHTTPError(http.StatusNotFound, err.Error())

	case errors.Is(err, relaydb.ErrNoCriteria),
		errors.Is(err, relaydb.ErrScriptTooLarge):

		return echo.NewHTTPError(http.StatusBadRequest, err.Error())

	default:
		return echo.NewHTTPError(http.StatusInternalServerError,
			err.Error())
	}
}

// handleInfo serves GET /relay: the latest request ID, the chain height and
// the chain tip.
func (s *Server) handleInfo(c echo.Context) error {
	info := infoJSON{}

	latest, err := s.cfg.Relay.DB().LatestRequest()
	switch {
	case err == nil:
		id := idToWire(latest.ID)
		info.Latest = &id

	case errors.Is(err, relaydb.ErrRequestNotFound):

	default:
		return mapStoreError(err)
	}

	if chain := s.cfg.Relay.Chain(); chain != nil {
		best, err := chain.BestBlock()
		if err != nil {
			return mapStoreError(err)
		}
		tip := best.Hash.String()
		info.Height = best.Height
		info.Tip = &tip
	}

	return c.JSON(http.StatusOK, info)
}

// handleLatestUnder serves GET /relay/latest/:maxid: the request with the
// greatest ID at or below the bound.
func (s *Server) handleLatestUnder(c echo.Context) error {
	maxID, err := idFromWire(c.Param("maxid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	req, err := s.cfg.Relay.DB().LatestRequestUnder(maxID)
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, marshalRequest(req))
}

// handleRescan serves POST /relay/rescan: replay history from the given
// height against the full subscription set.
func (s *Server) handleRescan(c echo.Context) error {
	var body struct {
		Height uint32 `json:"height"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	err := s.cfg.Relay.Rescan(c.Request().Context(), body.Height)
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, map[string]bool{"rescan": true})
}

// handleGetOutpoint serves GET /relay/outpoint/:hash/:index.
func (s *Server) handleGetOutpoint(c echo.Context) error {
	hash, err := hashFromWire(c.Param("hash"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	index, err := strconv.ParseUint(c.Param("index"), 10, 32)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	prevout := wire.OutPoint{Hash: *hash, Index: uint32(index)}
	rec, err := s.cfg.Relay.DB().FetchOutpointRecord(&prevout)
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, marshalOutpointRecord(rec))
}

// handleGetScript serves GET /relay/script/:script, keyed by the raw script
// hex rather than its hash.
func (s *Server) handleGetScript(c echo.Context) error {
	script, err := hex.DecodeString(c.Param("script"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	hash := relaydb.ScriptHash(script)
	rec, err := s.cfg.Relay.DB().FetchScriptRecord(&hash)
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, marshalScriptRecord(rec))
}

// handleGetRequest serves GET /relay/request/:id.
func (s *Server) handleGetRequest(c echo.Context) error {
	id, err := idFromWire(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	req, err := s.cfg.Relay.DB().FetchRequest(id)
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, marshalRequest(req))
}

// handleListRequests serves GET /relay/request: every stored request in
// ascending ID order.
func (s *Server) handleListRequests(c echo.Context) error {
	requests := make([]*requestJSON, 0)
	err := s.cfg.Relay.DB().ForEachRequest(func(req *relaydb.Request) error {
		requests = append(requests, marshalRequest(req))

		return nil
	})
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, requests)
}

// handlePutRequest serves PUT /relay/request: validate, persist and index
// the request, then optionally replay history for it from the supplied
// height.
func (s *Server) handlePutRequest(c echo.Context) error {
	var body requestJSON
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	req, height, err := unmarshalRequest(&body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	stored, opRec, sRec, err := s.cfg.Relay.AddRequest(req)
	if err != nil {
		return mapStoreError(err)
	}

	resp := putResponseJSON{
		Request: marshalRequest(stored),
	}
	if opRec != nil {
		resp.Outpoint = marshalOutpointRecord(opRec)
	}
	if sRec != nil {
		resp.Script = marshalScriptRecord(sRec)
	}

	if height != nil {
		err := s.cfg.Relay.RescanRequest(
			c.Request().Context(), stored, *height,
		)
		if err != nil {
			return mapStoreError(err)
		}
		resp.Rescan = true
	}

	return c.JSON(http.StatusOK, resp)
}

// handleDeleteRequest serves DELETE /relay/request.
func (s *Server) handleDeleteRequest(c echo.Context) error {
	var body struct {
		ID string `json:"id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	id, err := idFromWire(body.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.cfg.Relay.DeleteRequest(id); err != nil {
		return mapStoreError(err)
	}

	return c.NoContent(http.StatusOK)
}

// handleWipe serves DELETE /relay: drop every request and index entry.
func (s *Server) handleWipe(c echo.Context) error {
	if err := s.cfg.Relay.Wipe(); err != nil {
		return mapStoreError(err)
	}

	return c.NoContent(http.StatusOK)
}
