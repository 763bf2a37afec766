package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"recruiting-ai-queue/internal/config"
	"recruiting-ai-queue/internal/telemetry"
)

// Class names an endpoint group sharing one limit.
type Class string

const (
	ClassGeneral Class = "general"
	ClassAI      Class = "ai"
	ClassPayment Class = "payment"
	ClassAuth    Class = "auth"
	ClassUpload  Class = "upload"
)

// Rule allows Limit requests per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration
}

// RulesFromConfig builds the per-class table.
func RulesFromConfig(cfg config.RateLimitConfig) map[Class]Rule {
	return map[Class]Rule{
		ClassGeneral: {Limit: cfg.GeneralLimit, Window: cfg.GeneralWindow},
		ClassAI:      {Limit: cfg.AILimit, Window: cfg.AIWindow},
		ClassPayment: {Limit: cfg.PaymentLimit, Window: cfg.PaymentWindow},
		ClassAuth:    {Limit: cfg.AuthLimit, Window: cfg.AuthWindow},
		ClassUpload:  {Limit: cfg.UploadLimit, Window: cfg.UploadWindow},
	}
}

// FixedWindow counts requests per subject in windows that reset entirely when they expire.
type FixedWindow struct {
	client redis.UniversalClient
	prefix string
	rules  map[Class]Rule
	log    zerolog.Logger
}

// NewFixedWindow constructs a limiter over rules. Keys are "<prefix><class>:<subject>".
func NewFixedWindow(client redis.UniversalClient, prefix string, rules map[Class]Rule, logger zerolog.Logger) *FixedWindow {
	return &FixedWindow{client: client, prefix: prefix, rules: rules, log: logger}
}

// Allow counts one request by subject against class.
// Classes without a positive limit and window are unlimited.
func (l *FixedWindow) Allow(ctx context.Context, class Class, subject string) (Decision, error) {
	rule, ok := l.rules[class]
	if !ok || rule.Limit <= 0 || rule.Window <= 0 {
		return Decision{Allowed: true}, nil
	}
	key := fmt.Sprintf("%s%s:%s", l.prefix, class, subject)
	res, err := windowScript.Run(ctx, l.client, []string{key}, rule.Window.Milliseconds()).Result()
	if err != nil {
		return Decision{}, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return Decision{}, fmt.Errorf("unexpected reply from rate limit script: %v", res)
	}
	count, _ := arr[0].(int64)
	ttlMs, _ := arr[1].(int64)
	if ttlMs < 0 {
		ttlMs = rule.Window.Milliseconds()
	}

	remaining := rule.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:    int(count) <= rule.Limit,
		Limit:      rule.Limit,
		Remaining:  remaining,
		ResetAfter: time.Duration(ttlMs) * time.Millisecond,
	}, nil
}

// Middleware enforces class on every request. subject identifies the caller; onReject writes the
// response body after the rate limit headers are set. Store errors let the request through.
func (l *FixedWindow) Middleware(class Class, subject func(*http.Request) string, onReject func(http.ResponseWriter, *http.Request, Decision)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := l.Allow(r.Context(), class, subject(r))
			if err != nil {
				l.log.Warn().Err(err).Str("class", string(class)).Msg("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if d.Limit > 0 {
				setHeaders(w, d)
			}
			if !d.Allowed {
				telemetry.RateLimitRejects.WithLabelValues(string(class)).Inc()
				retry := int(d.ResetAfter.Round(time.Second) / time.Second)
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				onReject(w, r, d)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setHeaders(w http.ResponseWriter, d Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(d.ResetAfter).Unix(), 10))
}

// Subject returns "user:<id>" when the trusted header carries an identity and "ip:<addr>" otherwise.
func Subject(userHeader string) func(*http.Request) string {
	return func(r *http.Request) string {
		if id := strings.TrimSpace(r.Header.Get(userHeader)); id != "" {
			return "user:" + id
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		return "ip:" + host
	}
}

var windowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {count, ttl}
`)
