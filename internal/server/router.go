package server

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/sshapp/internal/lifecycle"
	mng "github.com/loykin/sshapp/internal/manager"
	"github.com/loykin/sshapp/internal/metrics"
	"github.com/loykin/sshapp/internal/service"
)

// Router provides embeddable HTTP handlers over the service manager.
// Endpoints:
//
//	GET  {basePath}/services
//	GET  {basePath}/services/:name
//	GET  {basePath}/services/:name/state
//	GET  {basePath}/services/:name/results/:result   query: all=true
//	GET  {basePath}/services/:name/pids
//	GET  {basePath}/services/:name/usage
//	POST {basePath}/services/:name/stop               query: graceful=true&timeout=30s
//	POST {basePath}/services/:name/clean
//	GET  {basePath}/metrics                           when metrics are enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mgr      *mng.Manager
	basePath string
	metrics  bool
	log      *slog.Logger
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(mgr *mng.Manager, basePath string) *Router {
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath), log: slog.Default()}
}

// WithMetrics mounts the Prometheus handler under the base path.
func (r *Router) WithMetrics() *Router {
	r.metrics = true
	return r
}

func (r *Router) WithLogger(lg *slog.Logger) *Router {
	if lg != nil {
		r.log = lg
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.accessLog)
	group := g.Group(r.basePath)
	group.GET("/services", r.handleList)
	svc := group.Group("/services/:name", r.lookup)
	svc.GET("", r.handleGet)
	svc.GET("/state", r.handleState)
	svc.GET("/results/:result", r.handleResult)
	svc.GET("/pids", r.handlePids)
	svc.GET("/usage", r.handleUsage)
	svc.POST("/stop", r.handleStop)
	svc.POST("/clean", r.handleClean)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer binds addr and serves the router in the background. A non-nil
// tlsCfg switches the listener to HTTPS.
func NewServer(addr, basePath string, mgr *mng.Manager, tlsCfg *tls.Config) (*http.Server, error) {
	r := NewRouter(mgr, basePath).WithMetrics()
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// graceful stops wait for the finished marker
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server.Addr = ln.Addr().String()
	go func() {
		var err error
		if tlsCfg != nil {
			err = server.ServeTLS(ln, "", "")
		} else {
			err = server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("api server stopped", "addr", addr, "error", err)
		}
	}()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// ServiceInfo describes a registered service.
type ServiceInfo struct {
	Name        string   `json:"name"`
	ClassName   string   `json:"class_name"`
	Nodes       []string `json:"nodes"`
	CaptureFile string   `json:"capture_file"`
}

type NodeStateInfo struct {
	Node  string `json:"node"`
	State string `json:"state"`
}

type StateResp struct {
	Service string          `json:"service"`
	State   string          `json:"state"`
	Nodes   []NodeStateInfo `json:"nodes"`
}

// ResultResp carries one value, or every value when all=true was requested.
type ResultResp struct {
	Service string   `json:"service"`
	Name    string   `json:"name"`
	Value   string   `json:"value,omitempty"`
	Values  []string `json:"values,omitempty"`
}

type NodePids struct {
	Node string `json:"node"`
	Pids []int  `json:"pids"`
}

const svcKey = "svc"

func (r *Router) accessLog(c *gin.Context) {
	begin := time.Now()
	c.Next()
	r.log.Debug("api request", "method", c.Request.Method, "path", c.FullPath(),
		"status", c.Writer.Status(), "elapsed", time.Since(begin))
}

func (r *Router) lookup(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid service name: allowed [A-Za-z0-9._-]"})
		c.Abort()
		return
	}
	svc, err := r.mgr.Get(name)
	if err != nil {
		writeError(c, err)
		c.Abort()
		return
	}
	c.Set(svcKey, svc)
	c.Next()
}

func current(c *gin.Context) *service.Service {
	return c.MustGet(svcKey).(*service.Service)
}

func info(svc *service.Service) ServiceInfo {
	spec := svc.Spec()
	nodes := make([]string, 0, len(spec.Nodes))
	for _, n := range spec.Nodes {
		nodes = append(nodes, n.String())
	}
	return ServiceInfo{Name: spec.Name, ClassName: spec.ClassName, Nodes: nodes, CaptureFile: spec.CaptureFile}
}

func (r *Router) handleList(c *gin.Context) {
	pattern := c.DefaultQuery("match", "*")
	out := make([]ServiceInfo, 0)
	for _, svc := range r.mgr.Match(pattern) {
		out = append(out, info(svc))
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleGet(c *gin.Context) {
	writeJSON(c, http.StatusOK, info(current(c)))
}

func (r *Router) handleState(c *gin.Context) {
	svc := current(c)
	nodes, err := svc.NodeStates(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	resp := StateResp{Service: svc.Name(), Nodes: make([]NodeStateInfo, 0, len(nodes))}
	states := make([]lifecycle.State, 0, len(nodes))
	for _, ns := range nodes {
		resp.Nodes = append(resp.Nodes, NodeStateInfo{Node: ns.Node.String(), State: ns.State.String()})
		states = append(states, ns.State)
	}
	resp.State = lifecycle.Combine(states...).String()
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleResult(c *gin.Context) {
	svc := current(c)
	name := c.Param("result")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid result name"})
		return
	}
	resp := ResultResp{Service: svc.Name(), Name: name}
	if all, _ := strconv.ParseBool(c.Query("all")); all {
		values, err := svc.ExtractResults(c.Request.Context(), name)
		if err != nil {
			writeError(c, err)
			return
		}
		resp.Values = values
		writeJSON(c, http.StatusOK, resp)
		return
	}
	v, err := svc.ExtractResult(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return
	}
	resp.Value = v
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handlePids(c *gin.Context) {
	svc := current(c)
	out := make([]NodePids, 0)
	for _, n := range svc.Nodes() {
		pids, err := svc.Pids(c.Request.Context(), n)
		if err != nil {
			writeError(c, err)
			return
		}
		if pids == nil {
			pids = []int{}
		}
		out = append(out, NodePids{Node: n.String(), Pids: pids})
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleUsage(c *gin.Context) {
	usage, err := current(c).Usage(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if usage == nil {
		usage = []metrics.ProcessMetrics{}
	}
	writeJSON(c, http.StatusOK, usage)
}

func (r *Router) handleStop(c *gin.Context) {
	graceful := true
	if s := c.Query("graceful"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid graceful: " + err.Error()})
			return
		}
		graceful = b
	}
	var timeout time.Duration
	if s := c.Query("timeout"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid timeout: " + err.Error()})
			return
		}
		timeout = d
	}
	if err := current(c).Stop(c.Request.Context(), graceful, timeout); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleClean(c *gin.Context) {
	if err := current(c).Clean(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
