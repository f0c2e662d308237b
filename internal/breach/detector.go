// Package breach checks secrets against a k-anonymity breach range service.
// Only the first five hex characters of the secret's SHA-1 ever leave the
// process.
package breach

import (
	"bufio"
	"context"
	"crypto/sha1" //nolint:gosec // the range protocol is defined over SHA-1
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/credcore/internal/metrics"
)

const (
	DefaultBaseURL    = "https://api.pwnedpasswords.com"
	DefaultTimeout    = 10 * time.Second
	DefaultBatchDelay = 700 * time.Millisecond
	DefaultUserAgent  = "credcore-breach-check"

	prefixLen    = 5
	maxRangeBody = 2 << 20
)

// Result of one check. A clean result is also returned when the service is
// unavailable.
type Result struct {
	IsBreached  bool   `json:"is_breached"`
	BreachCount int    `json:"breach_count"`
	HashPrefix  string `json:"hash_prefix"`
}

// ExternalServiceError describes a failed range request. It is logged and
// counted, never returned to callers.
type ExternalServiceError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Service, e.StatusCode)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// Options configure a Detector. Zero values take the defaults above.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	BatchDelay time.Duration
	UserAgent  string
	Cache      RangeCache
	HTTPClient *http.Client
}

// Detector performs breach range lookups.
type Detector struct {
	baseURL   string
	timeout   time.Duration
	delay     time.Duration
	userAgent string
	cache     RangeCache
	client    *http.Client
}

func NewDetector(opts Options) *Detector {
	d := &Detector{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		timeout:   opts.Timeout,
		delay:     opts.BatchDelay,
		userAgent: opts.UserAgent,
		cache:     opts.Cache,
		client:    opts.HTTPClient,
	}
	if d.baseURL == "" {
		d.baseURL = DefaultBaseURL
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	if d.delay <= 0 {
		d.delay = DefaultBatchDelay
	}
	if d.userAgent == "" {
		d.userAgent = DefaultUserAgent
	}
	if d.client == nil {
		d.client = &http.Client{}
	}
	return d
}

// HashPrefix splits the uppercase hex SHA-1 of secret into the 5-character
// prefix sent to the service and the suffix matched locally.
func HashPrefix(secret string) (prefix, suffix string) {
	sum := sha1.Sum([]byte(secret)) //nolint:gosec
	h := strings.ToUpper(hex.EncodeToString(sum[:]))
	return h[:prefixLen], h[prefixLen:]
}

// Check looks secret up. It fails open: on any transport or HTTP error the
// result is clean and the failure is logged.
func (d *Detector) Check(ctx context.Context, secret string) Result {
	res, _ := d.check(ctx, secret)
	return res
}

// CheckBatch checks secrets one at a time, waiting BatchDelay between
// network requests. On cancellation it returns the results so far and
// ctx.Err().
func (d *Detector) CheckBatch(ctx context.Context, secrets []string) ([]Result, error) {
	out := make([]Result, 0, len(secrets))
	for i, s := range secrets {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, fetched := d.check(ctx, s)
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out = append(out, res)
		if fetched && i < len(secrets)-1 {
			t := time.NewTimer(d.delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return out, ctx.Err()
			case <-t.C:
			}
		}
	}
	return out, nil
}

// check reports whether the service was contacted.
func (d *Detector) check(ctx context.Context, secret string) (Result, bool) {
	prefix, suffix := HashPrefix(secret)
	res := Result{HashPrefix: prefix}

	body, fetched, err := d.rangeBody(ctx, prefix)
	if err != nil {
		metrics.BreachCheck("unavailable")
		log.Warn().Err(err).Str("hash_prefix", prefix).Msg("breach check unavailable, failing open")
		return res, fetched
	}
	res.BreachCount = matchSuffix(body, suffix)
	res.IsBreached = res.BreachCount > 0
	if res.IsBreached {
		metrics.BreachCheck("breached")
	} else {
		metrics.BreachCheck("clean")
	}
	return res, fetched
}

func (d *Detector) rangeBody(ctx context.Context, prefix string) (string, bool, error) {
	if d.cache != nil {
		if body, ok := d.cache.Get(ctx, prefix); ok {
			metrics.BreachCache(true)
			return body, false, nil
		}
		metrics.BreachCache(false)
	}
	body, err := d.fetch(ctx, prefix)
	if err != nil {
		return "", true, err
	}
	if d.cache != nil {
		d.cache.Set(ctx, prefix, body)
	}
	return body, true, nil
}

func (d *Detector) fetch(ctx context.Context, prefix string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/range/"+prefix, nil)
	if err != nil {
		return "", &ExternalServiceError{Service: "breach range", Err: err}
	}
	req.Header.Set("Add-Padding", "true")
	req.Header.Set("User-Agent", d.userAgent)

	start := time.Now()
	resp, err := d.client.Do(req)
	metrics.ObserveBreachRequest(time.Since(start))
	if err != nil {
		return "", &ExternalServiceError{Service: "breach range", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxRangeBody)) //nolint:errcheck
		return "", &ExternalServiceError{Service: "breach range", StatusCode: resp.StatusCode}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxRangeBody))
	if err != nil {
		return "", &ExternalServiceError{Service: "breach range", StatusCode: resp.StatusCode, Err: err}
	}
	return string(b), nil
}

// matchSuffix scans SUFFIX:COUNT lines. Padding lines carry a zero count
// and never match.
func matchSuffix(body, suffix string) int {
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		s, c, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(s, suffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(c))
		if err != nil || n <= 0 {
			continue
		}
		return n
	}
	return 0
}
