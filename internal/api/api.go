// Package api serves the local HTTP surface the CRM front end submits through
// and operators inspect queues with.
package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mattbonnell/syncq"
	"github.com/mattbonnell/syncq/appraisal"
	"github.com/mattbonnell/syncq/kiosk"
	"github.com/rs/zerolog/log"
)

type Server struct {
	client     *syncq.Client
	httpClient *http.Client
	baseURL    string
	drafts     *appraisal.Adapter

	mu     sync.Mutex
	kiosks map[string]*kiosk.Adapter
}

func New(client *syncq.Client, httpClient *http.Client, baseURL string) *Server {
	return &Server{
		client:     client,
		httpClient: httpClient,
		baseURL:    baseURL,
		drafts:     appraisal.New(client, httpClient, baseURL),
		kiosks:     make(map[string]*kiosk.Adapter),
	}
}

// Kiosk returns the adapter for eventID, registering its queue on first use.
func (s *Server) Kiosk(eventID string) *kiosk.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.kiosks[eventID]
	if !ok {
		a = kiosk.New(s.client, s.httpClient, s.baseURL, eventID)
		s.kiosks[eventID] = a
	}
	return a
}

func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.health)
	r.POST("/kiosk/:event/check-ins", s.checkIn)
	r.POST("/appraisals/drafts", s.saveDraft)

	r.GET("/queues", s.listQueues)
	r.GET("/queues/:domain", s.getQueue)
	r.POST("/queues/:domain/drain", s.drainQueue)
	r.DELETE("/queues/:domain", s.purgeQueue)
	r.DELETE("/queues/:domain/jobs/:id", s.removeJob)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "online": s.client.Monitor.Online()})
}

func (s *Server) checkIn(c *gin.Context) {
	var req kiosk.CheckIn
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	event := c.Param("event")
	if event == appraisal.Domain {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reserved event id"})
		return
	}
	if err := syncq.ValidateDomain(event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	receipt, err := s.Kiosk(event).CheckIn(c.Request.Context(), req)
	s.respondSubmit(c, receipt, err)
}

func (s *Server) saveDraft(c *gin.Context) {
	var req appraisal.Draft
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	receipt, err := s.drafts.SaveDraft(c.Request.Context(), req)
	s.respondSubmit(c, receipt, err)
}

func (s *Server) respondSubmit(c *gin.Context, receipt syncq.Receipt, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, receipt)
	case errors.Is(err, syncq.ErrStorageWrite):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

type queueSummary struct {
	Domain   string `json:"domain"`
	Depth    int    `json:"depth"`
	Draining bool   `json:"draining"`
}

func (s *Server) listQueues(c *gin.Context) {
	ctx := c.Request.Context()
	domains, err := s.client.Syncer.Domains(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]queueSummary, 0, len(domains))
	for _, d := range domains {
		jobs, err := s.client.Queue.Load(ctx, d)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out = append(out, queueSummary{Domain: d, Depth: len(jobs), Draining: s.client.Drainer.Draining(d)})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getQueue(c *gin.Context) {
	domain := c.Param("domain")
	jobs, err := s.client.Queue.Load(c.Request.Context(), domain)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"domain":   domain,
		"draining": s.client.Drainer.Draining(domain),
		"policy":   s.client.Drainer.Policy(domain).String(),
		"jobs":     jobs,
	})
}

func (s *Server) drainQueue(c *gin.Context) {
	domain := c.Param("domain")
	n, err := s.client.Syncer.Drain(c.Request.Context(), domain)
	switch {
	case errors.Is(err, syncq.ErrDrainInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, syncq.ErrNoDeliverer):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "delivered": n})
	default:
		c.JSON(http.StatusOK, gin.H{"domain": domain, "delivered": n})
	}
}

func (s *Server) purgeQueue(c *gin.Context) {
	n, err := s.client.Queue.Purge(c.Request.Context(), c.Param("domain"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

func (s *Server) removeJob(c *gin.Context) {
	n, err := s.client.Queue.Remove(c.Request.Context(), c.Param("domain"), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}
