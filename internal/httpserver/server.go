package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/lumalytics/luma/internal/analytics"
	"github.com/lumalytics/luma/internal/config"
	"github.com/lumalytics/luma/internal/database"
	"github.com/lumalytics/luma/internal/geo"
	"github.com/lumalytics/luma/internal/ingest"
	"github.com/lumalytics/luma/internal/metrics"
	"github.com/lumalytics/luma/internal/models"
	"github.com/lumalytics/luma/internal/query"
	"github.com/lumalytics/luma/internal/storage"
	"go.uber.org/zap"
)

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	ClickHouse *database.ClickHouseDB
	DB         *database.PostgresDB
	Redis      *database.RedisDB
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Server wraps HTTP handlers around the analytics engines.
type Server struct {
	engine        *analytics.Engine
	ingestService *ingest.Service
	chartRepo     storage.ChartRepo
	dashboardRepo storage.DashboardRepo
	logger        *zap.Logger
	config        *config.Config
	metrics       *metrics.Metrics
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	schema := query.DefaultSchema()
	schema.Table = deps.Config.ClickHouse.Table
	schema.EntityExpr = deps.Config.ClickHouse.EntityExpr

	store := storage.NewClickHouseStore(deps.ClickHouse.Conn, deps.Config.ClickHouse.Table)

	var cache storage.Cache = storage.NoopCache{}
	if deps.Config.Analytics.CacheEnabled && deps.Redis != nil {
		cache = storage.NewRedisCache(deps.Redis.Client, deps.Logger)
	}

	var chartRepo storage.ChartRepo
	var dashboardRepo storage.DashboardRepo
	if deps.DB != nil {
		chartRepo = storage.NewPostgresChartRepo(deps.DB.Pool)
		dashboardRepo = storage.NewPostgresDashboardRepo(deps.DB.Pool)
	} else {
		chartRepo = storage.NewInMemoryChartRepo()
		dashboardRepo = storage.NewInMemoryDashboardRepo()
	}

	engine := analytics.NewEngine(store, schema, cache, deps.Logger, deps.Metrics, analytics.Config{
		DefaultTimeWindow: deps.Config.Analytics.DefaultTimeWindow,
		MaxSegments:       deps.Config.Analytics.MaxSegments,
		MaxEntities:       deps.Config.Analytics.MaxEntities,
		CacheTTL:          deps.Config.Analytics.CacheTTL,
	})

	var resolver geo.Resolver
	if deps.Config.Geo.Enabled {
		r, err := geo.NewMaxMindResolver(deps.Config.Geo.DatabasePath)
		if err != nil {
			deps.Logger.Warn("failed to initialize geo resolver, ingesting without geo", zap.Error(err))
		} else {
			resolver = r
		}
	}

	s := &Server{
		engine:        engine,
		ingestService: ingest.NewService(store, resolver, deps.Logger, deps.Metrics),
		chartRepo:     chartRepo,
		dashboardRepo: dashboardRepo,
		logger:        deps.Logger,
		config:        deps.Config,
		metrics:       deps.Metrics,
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	// Analytics computations
	mux.HandleFunc("/api/funnel", s.handleFunnel)
	mux.HandleFunc("/api/funnel/breakdown", s.handleFunnelBreakdown)
	mux.HandleFunc("/api/trend", s.handleTrend)
	mux.HandleFunc("/api/trend/breakdown", s.handleTrendBreakdown)
	mux.HandleFunc("/api/retention", s.handleRetention)
	mux.HandleFunc("/api/paths", s.handlePaths)

	// Property value suggestions for filter autocomplete
	mux.HandleFunc("/api/properties/values", s.handlePropertyValues)

	// Event ingestion
	mux.HandleFunc("/api/events", s.handleIngest)

	// Saved charts and dashboards
	mux.HandleFunc("/api/charts", s.handleCharts)
	mux.HandleFunc("/api/charts/", s.handleChartByID)
	mux.HandleFunc("/api/dashboards", s.handleDashboards)
	mux.HandleFunc("/api/dashboards/", s.handleDashboardByID)

	// Cache administration
	mux.HandleFunc("/api/cache/invalidate", s.handleCacheInvalidate)

	return mux
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Analytics ----

func (s *Server) handleFunnel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req analytics.FunnelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	steps, err := s.engine.ComputeFunnel(r.Context(), req)
	if err != nil {
		s.engineError(w, "funnel", err)
		return
	}
	s.jsonResponse(w, steps)
}

func (s *Server) handleFunnelBreakdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req analytics.FunnelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	breakdowns, err := s.engine.ComputeFunnelBreakdown(r.Context(), req)
	if err != nil {
		s.engineError(w, "funnel breakdown", err)
		return
	}
	s.jsonResponse(w, breakdowns)
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req analytics.TrendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	series, err := s.engine.ComputeTrends(r.Context(), req)
	if err != nil {
		s.engineError(w, "trend", err)
		return
	}
	s.jsonResponse(w, series)
}

func (s *Server) handleTrendBreakdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req analytics.TrendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	breakdowns, err := s.engine.ComputeTrendBreakdown(r.Context(), req)
	if err != nil {
		s.engineError(w, "trend breakdown", err)
		return
	}
	s.jsonResponse(w, breakdowns)
}

func (s *Server) handleRetention(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cfg models.RetentionConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	cohorts, err := s.engine.ComputeRetention(r.Context(), cfg)
	if err != nil {
		s.engineError(w, "retention", err)
		return
	}
	s.jsonResponse(w, cohorts)
}

func (s *Server) handlePaths(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cfg models.PathConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	result, err := s.engine.ComputePaths(r.Context(), cfg)
	if err != nil {
		s.engineError(w, "paths", err)
		return
	}
	s.jsonResponse(w, result)
}

func (s *Server) handlePropertyValues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	property := q.Get("property")
	if property == "" {
		s.errorResponse(w, "property required", http.StatusBadRequest)
		return
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	values := s.engine.PropertyValues(r.Context(), q.Get("source"), property, limit)
	if values == nil {
		values = []string{}
	}
	s.jsonResponse(w, values)
}

// ---- Event Ingestion ----

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var events []*models.Event
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	if err := s.ingestService.Track(r.Context(), events); err != nil {
		var storeErr *storage.StoreError
		if errors.As(err, &storeErr) {
			s.logger.Error("ingest failed", zap.Error(err))
			s.errorResponse(w, "event store unavailable", http.StatusBadGateway)
			return
		}
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]int{"accepted": len(events)})
}

// ---- Charts CRUD ----

func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.chartRepo.ListAll(r.Context())
		if err != nil {
			s.logger.Error("failed to list charts", zap.Error(err))
			s.errorResponse(w, "failed to list", http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, list)

	case http.MethodPost:
		var c models.Chart
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := c.Validate(); err != nil {
			s.errorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.chartRepo.Upsert(r.Context(), &c); err != nil {
			s.errorResponse(w, "failed to save: "+err.Error(), http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, c)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleChartByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/charts/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		c, err := s.chartRepo.GetByID(r.Context(), id)
		if err != nil {
			s.logger.Error("failed to get chart", zap.Error(err))
			s.errorResponse(w, "error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if c == nil {
			http.NotFound(w, r)
			return
		}
		s.jsonResponse(w, c)

	case http.MethodDelete:
		if err := s.chartRepo.Delete(r.Context(), id); err != nil {
			s.errorResponse(w, "failed to delete: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// ---- Dashboards CRUD ----

func (s *Server) handleDashboards(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.dashboardRepo.ListAll(r.Context())
		if err != nil {
			s.logger.Error("failed to list dashboards", zap.Error(err))
			s.errorResponse(w, "failed to list", http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, list)

	case http.MethodPost:
		var d models.Dashboard
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := d.Validate(); err != nil {
			s.errorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.dashboardRepo.Upsert(r.Context(), &d); err != nil {
			s.errorResponse(w, "failed to save: "+err.Error(), http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, d)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDashboardByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/dashboards/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		d, err := s.dashboardRepo.GetByID(r.Context(), id)
		if err != nil {
			s.logger.Error("failed to get dashboard", zap.Error(err))
			s.errorResponse(w, "error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if d == nil {
			http.NotFound(w, r)
			return
		}
		s.jsonResponse(w, d)

	case http.MethodDelete:
		if err := s.dashboardRepo.Delete(r.Context(), id); err != nil {
			s.errorResponse(w, "failed to delete: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// ---- Cache ----

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.engine.InvalidateCache(r.Context()); err != nil {
		s.logger.Error("cache invalidation failed", zap.Error(err))
		s.errorResponse(w, "failed to invalidate cache", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "invalidated"})
}

// ---- Helper Methods ----

// engineError maps engine failures onto HTTP codes: bad request shapes are
// the caller's fault, store failures are upstream failures.
func (s *Server) engineError(w http.ResponseWriter, op string, err error) {
	var cfgErr *query.ConfigurationError
	if errors.As(err, &cfgErr) {
		s.errorResponse(w, cfgErr.Error(), http.StatusBadRequest)
		return
	}

	var storeErr *storage.StoreError
	if errors.As(err, &storeErr) {
		s.logger.Error(op+" store error", zap.Error(err))
		s.errorResponse(w, "event store unavailable", http.StatusBadGateway)
		return
	}

	s.logger.Error(op+" failed", zap.Error(err))
	s.errorResponse(w, "internal error", http.StatusInternalServerError)
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
