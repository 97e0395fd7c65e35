package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/jmoiron/sqlx"
)

// Configuration constants
const (
	DefaultCacheTTL       = 10 * time.Second
	DefaultCheckTimeout   = 5 * time.Second
	DefaultDeepCheckLimit = 10 * time.Second
)

// Status represents the health check response.
type Status struct {
	Status    string                    `json:"status"`
	Service   string                    `json:"service"`
	Timestamp string                    `json:"timestamp"`
	Checks    map[string]ComponentCheck `json:"checks,omitempty"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// clone returns a copy of the status with its own Checks map.
func (s *Status) clone() *Status {
	out := *s
	out.Checks = make(map[string]ComponentCheck, len(s.Checks)+1)
	for name, check := range s.Checks {
		out.Checks[name] = check
	}
	return &out
}

// S3Client defines the S3 operations needed for health checks.
type S3Client interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// SQSClient defines the SQS operations needed for health checks.
type SQSClient interface {
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Probe checks one dependency. A nil return means healthy.
type Probe func(ctx context.Context) error

// Checker runs named probes against the worker's dependencies and caches the
// aggregate result between deep checks.
type Checker struct {
	service      string
	log          *slog.Logger
	cacheTTL     time.Duration
	checkTimeout time.Duration
	deepLimit    time.Duration

	mu            sync.RWMutex
	probes        map[string]Probe
	lastCheck     time.Time
	lastStatus    *Status
	lastDeepCheck time.Time
}

// NewChecker creates a checker with no probes registered.
func NewChecker(service string, log *slog.Logger) *Checker {
	return &Checker{
		service:      service,
		log:          log,
		cacheTTL:     DefaultCacheTTL,
		checkTimeout: DefaultCheckTimeout,
		deepLimit:    DefaultDeepCheckLimit,
		probes:       make(map[string]Probe),
	}
}

// Register adds a named dependency probe. Probes run only on deep checks.
func (c *Checker) Register(name string, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = probe
}

// BucketProbe verifies the output bucket is reachable.
func BucketProbe(client S3Client, bucket string) Probe {
	return func(ctx context.Context) error {
		_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(bucket),
		})
		return err
	}
}

// QueueProbe verifies a queue exists and is reachable.
func QueueProbe(client SQSClient, queueURL string) Probe {
	return func(ctx context.Context) error {
		_, err := client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
			QueueUrl: aws.String(queueURL),
			AttributeNames: []types.QueueAttributeName{
				types.QueueAttributeNameApproximateNumberOfMessages,
			},
		})
		return err
	}
}

// DatabaseProbe verifies the entity store connection.
func DatabaseProbe(db *sqlx.DB) Probe {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

// Check performs health checks on all registered dependencies.
// If deep is false, a cached result may be returned.
func (c *Checker) Check(ctx context.Context, deep bool) *Status {
	if !deep {
		c.mu.RLock()
		if c.lastStatus != nil && time.Since(c.lastCheck) < c.cacheTTL {
			status := c.lastStatus
			c.mu.RUnlock()
			return status
		}
		c.mu.RUnlock()
	}

	status := &Status{
		Status:    "healthy",
		Service:   c.service,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]ComponentCheck),
	}

	if deep {
		c.mu.RLock()
		probes := make(map[string]Probe, len(c.probes))
		for name, probe := range c.probes {
			probes[name] = probe
		}
		c.mu.RUnlock()

		for name, probe := range probes {
			check := c.runProbe(ctx, probe)
			status.Checks[name] = check
			if check.Status != "healthy" {
				status.Status = "degraded"
			}
		}
	}

	c.mu.Lock()
	c.lastCheck = time.Now()
	c.lastStatus = status
	c.mu.Unlock()

	return status
}

func (c *Checker) runProbe(ctx context.Context, probe Probe) ComponentCheck {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	err := probe(ctx)
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{
			Status:  "unhealthy",
			Latency: latency.String(),
			Error:   err.Error(),
		}
	}
	return ComponentCheck{
		Status:  "healthy",
		Latency: latency.String(),
	}
}

// CanPerformDeepCheck returns true if enough time has passed since the last deep check.
func (c *Checker) CanPerformDeepCheck() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.lastDeepCheck) >= c.deepLimit
}

// RecordDeepCheck records the time of a deep health check.
func (c *Checker) RecordDeepCheck() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastDeepCheck = time.Now()
}

// Handler returns an HTTP handler for basic health checks.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := c.Check(r.Context(), false)
		c.writeResponse(w, status)
	}
}

// DeepHandler returns an HTTP handler for deep health checks.
func (c *Checker) DeepHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.CanPerformDeepCheck() {
			// Check may return the shared cached Status; annotate a copy so
			// concurrent requests never write the same map and the rate-limit
			// note never leaks into the cache.
			status := c.Check(r.Context(), false).clone()
			status.Checks["rate_limited"] = ComponentCheck{
				Status: "info",
				Error:  "Deep health check rate limited, returning cached result",
			}

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "10")
			w.WriteHeader(http.StatusTooManyRequests)

			if err := json.NewEncoder(w).Encode(status); err != nil && c.log != nil {
				c.log.Error("Failed to encode health check response", "error", err)
			}
			return
		}

		c.RecordDeepCheck()
		status := c.Check(r.Context(), true)
		c.writeResponse(w, status)
	}
}

func (c *Checker) writeResponse(w http.ResponseWriter, status *Status) {
	w.Header().Set("Content-Type", "application/json")
	if status.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if err := json.NewEncoder(w).Encode(status); err != nil && c.log != nil {
		c.log.Error("Failed to encode health check response", "error", err)
	}
}
