// Package api wires up the Gin HTTP router with all handler functions.
package api

import (
	"distributed-kvstore/internal/apierr"
	"distributed-kvstore/internal/cluster"
	"distributed-kvstore/internal/store"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler holds all dependencies injected from main.
type Handler struct {
	coordinator *cluster.Coordinator
	topology    *cluster.Cluster
	registry    *prometheus.Registry
	peerTimeout time.Duration
	logger      *zap.Logger
}

// NewHandler creates a Handler. registry must be the same registry the
// coordinator's metrics were registered on, or /metrics serves nothing.
func NewHandler(coordinator *cluster.Coordinator, topology *cluster.Cluster, registry *prometheus.Registry, peerTimeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{coordinator: coordinator, topology: topology, registry: registry, peerTimeout: peerTimeout, logger: logger}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/v0/status", h.Status)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})))

	entity := r.Group("/v0/entity")
	entity.GET("", h.GetEntity)
	entity.PUT("", h.PutEntity)
	entity.DELETE("", h.DeleteEntity)

	r.GET("/v0/entities", h.Entities)

	clusterGroup := r.Group("/cluster")
	clusterGroup.POST("/join", h.Join)
	clusterGroup.POST("/leave", h.Leave)
	clusterGroup.GET("/nodes", h.ListNodes)

	r.NoMethod(func(c *gin.Context) {
		writeError(c, h.logger, fmt.Errorf("%w: %s not allowed", apierr.MethodNotAllowed, c.Request.Method))
	})
}

// Status handles GET /v0/status.
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetEntity handles GET /v0/entity.
func (h *Handler) GetEntity(c *gin.Context) {
	key := c.Query("id")
	if err := validateKey(key); err != nil {
		writeError(c, h.logger, err)
		return
	}
	ctx := c.Request.Context()

	if c.GetHeader(cluster.ProxyHeader) != "" {
		v, ok, err := h.coordinator.LocalGet(ctx, []byte(key))
		if err != nil {
			writeError(c, h.logger, fmt.Errorf("%w: %v", apierr.InternalFailure, err))
			return
		}
		if !ok {
			c.Status(http.StatusNotFound)
			return
		}
		c.Header(cluster.TimestampHeader, strconv.FormatInt(v.Timestamp, 10))
		if v.Tombstone {
			c.Status(http.StatusNotFound)
			return
		}
		// Expiry is resolved at the originator after merge, so the replica
		// reports the deadline instead of filtering here.
		if v.ExpiresAt != store.NeverExpires {
			c.Header(cluster.ExpiresHeader, strconv.FormatInt(v.ExpiresAt, 10))
		}
		c.Data(http.StatusOK, "application/octet-stream", v.Data)
		return
	}

	requestID := uuid.NewString()
	ack, from, err := parseReplicas(c.Query("replicas"), h.topology.Size())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	result, err := h.coordinator.Get(ctx, []byte(key), ack, from)
	if err != nil {
		h.logger.Warn("get failed", zap.String("request_id", requestID), zap.String("key", key), zap.Error(err))
		writeError(c, h.logger, wrapQuorumErr(err))
		return
	}
	if !result.Found {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", result.Value.Data)
}

// PutEntity handles PUT /v0/entity.
func (h *Handler) PutEntity(c *gin.Context) {
	key := c.Query("id")
	if err := validateKey(key); err != nil {
		writeError(c, h.logger, err)
		return
	}
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, h.logger, fmt.Errorf("%w: reading body: %v", apierr.InternalFailure, err))
		return
	}
	expiresAt := parseExpires(c.GetHeader(cluster.ExpiresHeader))
	ctx := c.Request.Context()

	if c.GetHeader(cluster.ProxyHeader) != "" {
		ts := parseOptionalTimestamp(c.GetHeader(cluster.TimestampHeader))
		if _, err := h.coordinator.LocalPut(ctx, []byte(key), data, expiresAt, ts); err != nil {
			writeError(c, h.logger, fmt.Errorf("%w: %v", apierr.InternalFailure, err))
			return
		}
		c.Status(http.StatusCreated)
		return
	}

	requestID := uuid.NewString()
	ack, from, err := parseReplicas(c.Query("replicas"), h.topology.Size())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if _, err := h.coordinator.Put(ctx, []byte(key), data, expiresAt, ack, from); err != nil {
		h.logger.Warn("put failed", zap.String("request_id", requestID), zap.String("key", key), zap.Error(err))
		writeError(c, h.logger, wrapQuorumErr(err))
		return
	}
	c.Status(http.StatusCreated)
}

// DeleteEntity handles DELETE /v0/entity.
func (h *Handler) DeleteEntity(c *gin.Context) {
	key := c.Query("id")
	if err := validateKey(key); err != nil {
		writeError(c, h.logger, err)
		return
	}
	ctx := c.Request.Context()

	if c.GetHeader(cluster.ProxyHeader) != "" {
		ts := parseOptionalTimestamp(c.GetHeader(cluster.TimestampHeader))
		if _, err := h.coordinator.LocalRemove(ctx, []byte(key), ts); err != nil {
			writeError(c, h.logger, fmt.Errorf("%w: %v", apierr.InternalFailure, err))
			return
		}
		c.Status(http.StatusAccepted)
		return
	}

	requestID := uuid.NewString()
	ack, from, err := parseReplicas(c.Query("replicas"), h.topology.Size())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if err := h.coordinator.Delete(ctx, []byte(key), ack, from); err != nil {
		h.logger.Warn("delete failed", zap.String("request_id", requestID), zap.String("key", key), zap.Error(err))
		writeError(c, h.logger, wrapQuorumErr(err))
		return
	}
	c.Status(http.StatusAccepted)
}

// Entities handles GET /v0/entities, a streaming, chunked, non-replicated
// range scan. Backpressure comes for free: Write blocks on the underlying
// TCP connection when the client isn't reading, so the loop naturally
// suspends pulling from the iterator without any explicit flow-control code.
func (h *Handler) Entities(c *gin.Context) {
	start := c.Query("start")
	if err := validateKey(start); err != nil {
		writeError(c, h.logger, err)
		return
	}
	end, endGiven := c.GetQuery("end")
	if endGiven && end == "" {
		writeError(c, h.logger, fmt.Errorf("%w: end must not be empty when present", apierr.BadParameters))
		return
	}

	var to []byte
	if endGiven {
		to = []byte(end)
	}

	it, err := h.coordinator.RangeScan(c.Request.Context(), []byte(start), to)
	if err != nil {
		writeError(c, h.logger, fmt.Errorf("%w: %v", apierr.InternalFailure, err))
		return
	}
	defer it.Close()

	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)
	enc := json.NewEncoder(c.Writer)
	for it.Next(c.Request.Context()) {
		rec := it.Record()
		if err := enc.Encode(wireRecord{Key: string(rec.Key), Data: rec.Data}); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
	if err := it.Err(); err != nil {
		h.logger.Error("range scan failed mid-stream", zap.Error(err))
	}
	// Returning ends the chunked body with the terminating empty chunk —
	// net/http writes it when the handler completes without a Content-Length.
}

type wireRecord struct {
	Key  string `json:"key"`
	Data []byte `json:"data"`
}

// Join handles POST /cluster/join.
func (h *Handler) Join(c *gin.Context) {
	var node cluster.Node
	if err := c.ShouldBindJSON(&node); err != nil {
		writeError(c, h.logger, fmt.Errorf("%w: %v", apierr.BadParameters, err))
		return
	}
	if err := h.topology.Join(node, h.peerTimeout); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"joined": node.ID})
}

// Leave handles POST /cluster/leave.
func (h *Handler) Leave(c *gin.Context) {
	var body struct {
		ID string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, h.logger, fmt.Errorf("%w: %v", apierr.BadParameters, err))
		return
	}
	if err := h.topology.Leave(body.ID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"left": body.ID})
}

// ListNodes handles GET /cluster/nodes.
func (h *Handler) ListNodes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"nodes": h.topology.All()})
}

func parseExpires(raw string) int64 {
	if raw == "" {
		return store.NeverExpires
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return store.NeverExpires
	}
	return v
}

func parseOptionalTimestamp(raw string) *int64 {
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func wrapQuorumErr(err error) error {
	var insufficient cluster.ErrInsufficientReplicas
	if errors.As(err, &insufficient) {
		return err
	}
	if _, ok := apierr.Is(err); ok {
		return err
	}
	return fmt.Errorf("%w: %v", apierr.InternalFailure, err)
}

func writeError(c *gin.Context, logger *zap.Logger, err error) {
	status := apierr.StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
