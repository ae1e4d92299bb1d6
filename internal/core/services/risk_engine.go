package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jjsmithok/security-platform/internal/core/catalog"
	"github.com/jjsmithok/security-platform/internal/core/domain"
	"github.com/jjsmithok/security-platform/internal/core/ports"
)

const (
	maxRiskScore        = 100
	defaultAuditTimeout = time.Second
)

// RiskWeights are the penalties added per fired rule. A catalog signature
// with its own weight overrides Signature.
type RiskWeights struct {
	BlockedIP     int
	Signature     int
	Oversize      int
	PathTraversal int
}

// RiskLevels are the lower bounds of the medium, high and critical bands.
type RiskLevels struct {
	Medium   int
	High     int
	Critical int
}

type RiskConfig struct {
	BlockThreshold int
	Levels         RiskLevels
	PayloadLimit   int
	Weights        RiskWeights
	AuditTimeout   time.Duration
}

func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		BlockThreshold: 70,
		Levels:         RiskLevels{Medium: 20, High: 50, Critical: 70},
		PayloadLimit:   10000,
		Weights: RiskWeights{
			BlockedIP:     50,
			Signature:     30,
			Oversize:      10,
			PathTraversal: 20,
		},
		AuditTimeout: defaultAuditTimeout,
	}
}

func (c RiskConfig) validate() error {
	if c.BlockThreshold <= 0 || c.BlockThreshold > maxRiskScore {
		return domain.NewValidationError("block_threshold", fmt.Sprintf("must be in (0,%d], got %d", maxRiskScore, c.BlockThreshold))
	}
	l := c.Levels
	if l.Medium <= 0 || l.Medium >= l.High || l.High >= l.Critical || l.Critical > maxRiskScore {
		return domain.NewValidationError("levels", fmt.Sprintf("need 0 < medium < high < critical <= %d, got %d/%d/%d", maxRiskScore, l.Medium, l.High, l.Critical))
	}
	if c.PayloadLimit <= 0 {
		return domain.NewValidationError("payload_limit", "must be positive")
	}
	w := c.Weights
	if w.BlockedIP < 0 || w.Signature < 0 || w.Oversize < 0 || w.PathTraversal < 0 {
		return domain.NewValidationError("weights", "must not be negative")
	}
	return nil
}

// RiskEngine scores requests against a static catalog. It holds no mutable
// state and is safe for concurrent use.
type RiskEngine struct {
	catalog *catalog.Catalog
	config  RiskConfig
	sink    ports.RiskEventSink
	opts    options
}

var _ ports.RiskAssessor = (*RiskEngine)(nil)

// NewRiskEngine builds an engine. sink may be nil, in which case RecordEvent
// is a no-op.
func NewRiskEngine(c *catalog.Catalog, cfg RiskConfig, sink ports.RiskEventSink, opts ...Option) (*RiskEngine, error) {
	if c == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.AuditTimeout <= 0 {
		cfg.AuditTimeout = defaultAuditTimeout
	}
	return &RiskEngine{catalog: c, config: cfg, sink: sink, opts: buildOptions(opts)}, nil
}

// Assess scores a single request. Every rule that fires adds its penalty and
// a factor line; the total is clamped to [0,100].
func (e *RiskEngine) Assess(f domain.RequestFactors) domain.RiskAssessment {
	score := 0
	factors := []string{}

	if f.IP != "" && e.catalog.IsBlocked(f.IP) {
		score += e.config.Weights.BlockedIP
		factors = append(factors, "Blocked IP range")
	}

	if f.Payload != nil {
		text, err := canonicalPayload(f.Payload)
		if err != nil {
			e.opts.logger.Debug("payload not serializable, skipping pattern scan", zap.Error(err))
		} else {
			for _, sig := range e.catalog.Match(text) {
				weight := sig.Weight
				if weight == 0 {
					weight = e.config.Weights.Signature
				}
				score += weight
				factors = append(factors, "Suspicious pattern detected: "+sig.Name)
				e.opts.metrics.IncSignatureHit(sig.Name)
			}

			if len(text) > e.config.PayloadLimit {
				score += e.config.Weights.Oversize
				factors = append(factors, "Payload size exceeds limit")
			}
		}
	}

	if strings.Contains(f.Endpoint, "..") || strings.Contains(f.Endpoint, "//") {
		score += e.config.Weights.PathTraversal
		factors = append(factors, "Path traversal attempt")
	}

	score = clampScore(score)
	e.opts.metrics.ObserveRiskScore(score)

	return domain.RiskAssessment{
		Score:       score,
		Factors:     factors,
		ShouldBlock: score >= e.config.BlockThreshold,
		Level:       e.RiskLevel(score),
	}
}

// RiskLevel classifies a score; each band includes its lower bound.
func (e *RiskEngine) RiskLevel(score int) domain.RiskLevel {
	return ClassifyRisk(score, e.config.Levels)
}

func ClassifyRisk(score int, levels RiskLevels) domain.RiskLevel {
	switch {
	case score < levels.Medium:
		return domain.RiskLow
	case score < levels.High:
		return domain.RiskMedium
	case score < levels.Critical:
		return domain.RiskHigh
	default:
		return domain.RiskCritical
	}
}

// RecordEvent hands an assessment to the audit sink. It never fails: sink
// errors and timeouts are logged and dropped.
func (e *RiskEngine) RecordEvent(ctx context.Context, f domain.RequestFactors, a domain.RiskAssessment) {
	if e.sink == nil {
		return
	}

	event := domain.RiskEvent{
		ID:         uuid.NewString(),
		Identity:   f.Identity,
		IP:         f.IP,
		UserAgent:  f.UserAgent,
		Endpoint:   f.Endpoint,
		Method:     f.Method,
		Score:      a.Score,
		Level:      a.Level,
		Blocked:    a.ShouldBlock,
		Factors:    append([]string(nil), a.Factors...),
		OccurredAt: e.opts.clock.Now(),
	}

	// The request may already be finished; the audit write gets its own budget.
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.AuditTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.opts.logger.Error("risk event sink panicked", zap.Any("panic", r), zap.String("event_id", event.ID))
			e.opts.metrics.IncAuditFailure()
		}
	}()

	if err := e.sink.Record(sinkCtx, event); err != nil {
		e.opts.logger.Warn("failed to record risk event", zap.String("event_id", event.ID), zap.Error(err))
		e.opts.metrics.IncAuditFailure()
	}
}

// canonicalPayload renders the payload as text for pattern matching.
// Strings and raw bytes are scanned as-is; everything else is JSON with
// HTML escaping off so markup such as <script> stays literal.
func canonicalPayload(payload any) (string, error) {
	switch v := payload.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case json.RawMessage:
		return string(v), nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > maxRiskScore {
		return maxRiskScore
	}
	return score
}
