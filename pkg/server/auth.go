package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mercator-hq/tabula/pkg/config"
)

var (
	errMissingKey = errors.New("no API key found")
	errInvalidKey = errors.New("invalid API key")
	errDisabled   = errors.New("API key disabled")
)

// APIKey is an accepted key and the datasets it may export.
type APIKey struct {
	Name     string
	Key      string
	Datasets []string
	Enabled  bool

	// limiter is nil for keys without a rate.
	limiter *rate.Limiter
}

// reserve takes a token from the key's bucket. It returns the wait before a
// request would be allowed, zero when allowed now.
func (k *APIKey) reserve() time.Duration {
	if k.limiter == nil {
		return 0
	}
	res := k.limiter.Reserve()
	if d := res.Delay(); d > 0 {
		res.Cancel()
		return d
	}
	return 0
}

// allows reports whether the key may access dataset. An empty dataset
// (listing routes, job lookups) is always allowed.
func (k *APIKey) allows(dataset string) bool {
	return dataset == "" || len(k.Datasets) == 0 || slices.Contains(k.Datasets, dataset)
}

// KeySet validates API keys. It is safe for concurrent use and can be
// replaced wholesale on config reload.
type KeySet struct {
	mu   sync.RWMutex
	keys []*APIKey
}

// NewKeySet builds a KeySet from configuration, reading KeyEnv secrets from
// the environment.
func NewKeySet(cfg []config.APIKeyConfig) (*KeySet, error) {
	ks := &KeySet{}
	if err := ks.Replace(cfg); err != nil {
		return nil, err
	}
	return ks, nil
}

// Replace swaps the accepted keys. On error the current keys are kept.
func (ks *KeySet) Replace(cfg []config.APIKeyConfig) error {
	keys := make([]*APIKey, 0, len(cfg))
	for _, c := range cfg {
		secret := c.Key
		if secret == "" && c.KeyEnv != "" {
			secret = os.Getenv(c.KeyEnv)
		}
		if secret == "" {
			return fmt.Errorf("API key %q has no secret", c.Name)
		}
		key := &APIKey{
			Name:     c.Name,
			Key:      secret,
			Datasets: slices.Clone(c.Datasets),
			Enabled:  !c.Disabled,
		}
		if c.RequestsPerMinute > 0 {
			key.limiter = rate.NewLimiter(rate.Limit(float64(c.RequestsPerMinute)/60), max(c.Burst, 1))
		}
		keys = append(keys, key)
	}

	ks.mu.Lock()
	ks.keys = keys
	ks.mu.Unlock()
	return nil
}

// Validate returns the key matching secret.
func (ks *KeySet) Validate(secret string) (*APIKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	for _, k := range ks.keys {
		if subtle.ConstantTimeCompare([]byte(k.Key), []byte(secret)) != 1 {
			continue
		}
		if !k.Enabled {
			return nil, errDisabled
		}
		return k, nil
	}
	return nil, errInvalidKey
}

// Len returns the number of configured keys.
func (ks *KeySet) Len() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.keys)
}

type apiKeyContextKey struct{}

// APIKeyFromContext returns the key that authenticated the request.
func APIKeyFromContext(ctx context.Context) (*APIKey, bool) {
	k, ok := ctx.Value(apiKeyContextKey{}).(*APIKey)
	return k, ok
}

// authenticator wraps protected routes. It runs inside the route handler so
// that r.PathValue is available for dataset scoping.
type authenticator struct {
	keys   *KeySet
	header string
	logger *slog.Logger
}

// extract reads the key from Authorization: Bearer or the configured header.
func (a *authenticator) extract(r *http.Request) (string, error) {
	if v := r.Header.Get("Authorization"); v != "" {
		if token, ok := strings.CutPrefix(v, "Bearer "); ok && token != "" {
			return token, nil
		}
	}
	if a.header != "" {
		if v := r.Header.Get(a.header); v != "" {
			return v, nil
		}
	}
	return "", errMissingKey
}

// authenticate returns the key presented by r.
func (a *authenticator) authenticate(r *http.Request) (*APIKey, error) {
	secret, err := a.extract(r)
	if err != nil {
		return nil, err
	}
	return a.keys.Validate(secret)
}

// protect returns next unchanged when auth is disabled.
func (a *authenticator) protect(next http.HandlerFunc) http.Handler {
	if a == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := w.Header().Get(RequestIDHeader)

		key, err := a.authenticate(r)
		if err != nil {
			a.logger.WarnContext(r.Context(), "Unauthenticated request",
				"error", err,
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="tabula"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error(), RequestID: requestID})
			return
		}

		if dataset := r.PathValue("dataset"); !key.allows(dataset) {
			a.logger.WarnContext(r.Context(), "API key not allowed for dataset", "key", key.Name, "dataset", dataset)
			writeJSON(w, http.StatusForbidden, errorResponse{
				Error:     fmt.Sprintf("key %q may not export dataset %q", key.Name, dataset),
				RequestID: requestID,
			})
			return
		}

		if wait := key.reserve(); wait > 0 {
			a.logger.WarnContext(r.Context(), "API key rate limited", "key", key.Name, "retry_after", wait.String())
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", RequestID: requestID})
			return
		}

		a.logger.DebugContext(r.Context(), "API key authenticated", "key", key.Name, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), apiKeyContextKey{}, key)))
	})
}
