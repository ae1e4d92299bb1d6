package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/jjsmithok/security-platform/internal/core/domain"
	"github.com/jjsmithok/security-platform/internal/core/ports"
)

const (
	rateLimitExceededMessage = "you have reached the maximum number of requests or actions allowed within a certain time frame"
	requestBlockedMessage    = "request blocked due to high risk score"
	DefaultMaxBodyBytes      = 1 << 20
)

type GuardOptions struct {
	MaxBodyBytes int64
	Logger       *zap.Logger
	Clock        ports.Clock
}

// NewGuardMiddleware runs every request through the guard. Requests behind
// SessionAuth are keyed by user id; anything else falls back to the client IP.
func NewGuardMiddleware(guard ports.Guard, opts GuardOptions) func(http.Handler) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = ports.SystemClock{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if guard == nil {
				next.ServeHTTP(w, r)
				return
			}

			body, tooLarge, err := readBody(r, opts.MaxBodyBytes)
			if err != nil {
				writeError(w, http.StatusBadRequest, "could not read request body")
				return
			}
			if tooLarge {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}

			ip := ClientIP(r)
			identity := "ip:" + ip
			if session, ok := SessionFromContext(r.Context()); ok {
				identity = session.UserID
			}

			verdict, err := guard.Check(r.Context(), domain.GuardRequest{
				Identity: identity,
				Factors: domain.RequestFactors{
					IP:        ip,
					UserAgent: r.UserAgent(),
					Endpoint:  r.URL.Path,
					Method:    r.Method,
					Payload:   decodePayload(body),
				},
			})
			if err != nil {
				opts.Logger.Error("guard check failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
				return
			}

			setRateLimitHeaders(w, verdict.RateLimit)

			switch verdict.Outcome {
			case domain.OutcomeThrottle:
				writeTooManyRequests(w, verdict.RateLimit, opts.Clock.Now())
				return
			case domain.OutcomeBlock:
				writeJSON(w, http.StatusForbidden, blockedResponse{
					Error:     requestBlockedMessage,
					RiskScore: verdict.Risk.Score,
					Level:     verdict.Risk.Level,
					Factors:   verdict.Risk.Factors,
				})
				return
			}

			next.ServeHTTP(w, r.WithContext(withVerdict(r.Context(), verdict)))
		})
	}
}

type blockedResponse struct {
	Error     string           `json:"error"`
	RiskScore int              `json:"risk_score"`
	Level     domain.RiskLevel `json:"level"`
	Factors   []string         `json:"factors"`
}

// readBody buffers at most limit bytes and puts the body back for the handler.
func readBody(r *http.Request, limit int64) ([]byte, bool, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, false, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > limit {
		return nil, true, nil
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, false, nil
}

// decodePayload yields structured JSON when the body parses, raw text otherwise.
func decodePayload(body []byte) any {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return v
	}
	return string(body)
}

func setRateLimitHeaders(w http.ResponseWriter, d domain.Decision) {
	if d.Limit <= 0 || d.FailedOpen {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func writeTooManyRequests(w http.ResponseWriter, d domain.Decision, now time.Time) {
	retryAfter := int(math.Ceil(d.RetryAfter(now).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":    rateLimitExceededMessage,
		"reset_at": d.ResetAt.UTC().Format(time.RFC3339),
	})
}
