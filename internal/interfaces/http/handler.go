// @title           candlekeeper API
// @version         1.0
// @description     Cached OHLC candle windows served from per-series collectors
// @BasePath        /api/v1

package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"candlekeeper/internal/application/service/collector"
	appmarketdata "candlekeeper/internal/application/service/marketdata"
	domain "candlekeeper/internal/domain/entity/marketdata"
	interfaces "candlekeeper/internal/domain/interfaces"
	"candlekeeper/internal/infrastructure/oanda"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	candlesBasePath    = "/api/v1/candles"
	collectorsBasePath = "/api/v1/collectors"

	// Upper bounds on a single read; anything larger would backfill more
	// history than one request should trigger.
	maxCount  = oanda.MaxCount
	maxOffset = 10 * oanda.MaxCount
)

var errBadQuery = errors.New("bad query")

type Handler struct {
	router     *gin.Engine
	marketdata *appmarketdata.Service
	cache      *redis.Client
	cacheTTL   time.Duration
	logger     *logrus.Entry
}

var _ http.Handler = (*Handler)(nil)

// NewHandler builds the router. A nil cache turns response caching off.
func NewHandler(md *appmarketdata.Service, cache *redis.Client, cacheTTL time.Duration, logger *logrus.Logger) *Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	h := &Handler{
		router:     router,
		marketdata: md,
		cache:      cache,
		cacheTTL:   cacheTTL,
		logger:     logger.WithField("component", "http"),
	}
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/healthz", h.health)

	candles := h.router.Group(candlesBasePath)
	if h.cache != nil && h.cacheTTL > 0 {
		candles.Use(h.cacheMiddleware())
	}
	{
		candles.GET("/last", h.getCandlesLast)
		candles.GET("/offset", h.getCandlesOffset)
	}

	collectors := h.router.Group(collectorsBasePath)
	{
		collectors.GET("", h.listCollectors)
		collectors.GET("/state", h.getCollectorState)
		collectors.POST("/persist", h.persist)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// getCandlesLast returns the newest candles of a series
// @Summary      Get last candles
// @Tags         candles
// @Produce      json
// @Param        instrument   query     string  true  "Instrument, e.g. EUR_USD"
// @Param        granularity  query     string  true  "Granularity code, e.g. H1"
// @Param        count        query     int     true  "Number of candles"
// @Success      200          {object}  domain.Sequence
// @Failure      400          {object}  map[string]string
// @Failure      502          {object}  map[string]string
// @Router       /candles/last [get]
func (h *Handler) getCandlesLast(c *gin.Context) {
	key, err := parseKeyQuery(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	count, err := parseIntQuery(c, "count", maxCount)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	seq, err := h.marketdata.GetLastCandles(c.Request.Context(), key.Instrument, key.Granularity, count)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, seq)
}

// getCandlesOffset returns candles ending offset candles before the newest
// @Summary      Get candles at an offset
// @Tags         candles
// @Produce      json
// @Param        instrument   query     string  true  "Instrument, e.g. EUR_USD"
// @Param        granularity  query     string  true  "Granularity code, e.g. H1"
// @Param        offset       query     int     true  "Candles to skip from the newest"
// @Param        count        query     int     true  "Number of candles"
// @Success      200          {object}  domain.Sequence
// @Failure      400          {object}  map[string]string
// @Failure      502          {object}  map[string]string
// @Router       /candles/offset [get]
func (h *Handler) getCandlesOffset(c *gin.Context) {
	key, err := parseKeyQuery(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	offset, err := parseIntQuery(c, "offset", maxOffset)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	count, err := parseIntQuery(c, "count", maxCount)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	seq, err := h.marketdata.GetCandlesOffset(c.Request.Context(), key.Instrument, key.Granularity, offset, count)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, seq)
}

// listCollectors reports every registered collector
// @Summary      List collectors
// @Tags         collectors
// @Produce      json
// @Success      200  {array}  collector.State
// @Router       /collectors [get]
func (h *Handler) listCollectors(c *gin.Context) {
	c.JSON(http.StatusOK, h.marketdata.ListStatus())
}

// @Summary      Get collector state
// @Tags         collectors
// @Produce      json
// @Param        instrument   query     string  true  "Instrument"
// @Param        granularity  query     string  true  "Granularity code"
// @Success      200          {object}  collector.State
// @Failure      404          {object}  map[string]string
// @Router       /collectors/state [get]
func (h *Handler) getCollectorState(c *gin.Context) {
	key, err := parseKeyQuery(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	state, err := h.marketdata.Status(key.Instrument, key.Granularity)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// persist writes every cached window to the configured stores
// @Summary      Persist windows
// @Tags         collectors
// @Produce      json
// @Success      200  {object}  map[string]int
// @Failure      500  {object}  map[string]string
// @Router       /collectors/persist [post]
func (h *Handler) persist(c *gin.Context) {
	written, err := h.marketdata.Persist(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"persisted": written})
}

func (h *Handler) writeServiceError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	writeError(c, status, err)
}

func statusFor(err error) int {
	var (
		apiErr *oanda.APIError
		seqErr *domain.SequenceError
	)
	switch {
	case errors.Is(err, appmarketdata.ErrInvalidLimit),
		errors.Is(err, appmarketdata.ErrInvalidOffset),
		errors.Is(err, collector.ErrInvalidCount),
		errors.Is(err, collector.ErrInvalidOffset):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrSequenceNotFound),
		errors.Is(err, appmarketdata.ErrCollectorMissing):
		return http.StatusNotFound
	case errors.As(err, &apiErr),
		errors.As(err, &seqErr),
		errors.Is(err, oanda.ErrMalformedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, status int, err error) {
	if err == nil {
		status = http.StatusInternalServerError
		err = errors.New("unknown error")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// cacheMiddleware caches successful GET responses in Redis.
func (h *Handler) cacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := cacheKey(c)
		ctx := c.Request.Context()

		if cached, err := h.cache.Get(ctx, key).Bytes(); err == nil {
			c.Header("X-Cache", "HIT")
			c.Data(http.StatusOK, "application/json; charset=utf-8", cached)
			c.Abort()
			return
		}

		recorder := &responseRecorder{
			ResponseWriter: c.Writer,
			status:         http.StatusOK,
			body:           &bytes.Buffer{},
		}
		c.Writer = recorder

		c.Next()

		if recorder.status >= 200 && recorder.status < 300 && recorder.body.Len() > 0 {
			if err := h.cache.Set(ctx, key, recorder.body.Bytes(), h.cacheTTL).Err(); err != nil {
				h.logger.WithError(err).Warn("cache response")
			}
		}
	}
}

type responseRecorder struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if len(data) > 0 {
		r.body.Write(data)
	}
	return r.ResponseWriter.Write(data)
}

func cacheKey(c *gin.Context) string {
	return fmt.Sprintf("candlekeeper:http:%s:%s?%s", c.Request.Method, c.FullPath(), c.Request.URL.RawQuery)
}

func parseKeyQuery(c *gin.Context) (domain.Key, error) {
	instrument, err := domain.ParseInstrument(c.Query("instrument"))
	if err != nil {
		return domain.Key{}, err
	}
	granularity, err := domain.ParseGranularity(c.Query("granularity"))
	if err != nil {
		return domain.Key{}, err
	}
	return domain.Key{Instrument: instrument, Granularity: granularity}, nil
}

func parseIntQuery(c *gin.Context, key string, limit int) (int, error) {
	value := c.Query(key)
	if value == "" {
		return 0, fmt.Errorf("%w: %s query param required", errBadQuery, key)
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errBadQuery, key)
	}
	if n > limit {
		return 0, fmt.Errorf("%w: %s must not exceed %d", errBadQuery, key, limit)
	}
	return n, nil
}
