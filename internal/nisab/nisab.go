// Package nisab resolves the nisab threshold and zakat rate used by the
// calculator. The backend is the source of truth; when it cannot be reached
// a static default is used instead.
package nisab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sadaka-platform/zakat"
	"github.com/sadaka-platform/zakat/internal/backend"
)

// ErrInvalidNisab is returned when the backend reports unusable values.
var ErrInvalidNisab = errors.New("invalid nisab")

// Info is the current nisab threshold and zakat rate.
type Info struct {
	NisabAmount decimal.Decimal `json:"nisab_amount"`
	Currency    string          `json:"currency"`
	ZakatRate   decimal.Decimal `json:"zakat_rate"`
	Description string          `json:"description"`
}

// Default is the static fallback used when no nisab can be fetched.
func Default() Info {
	return Info{
		NisabAmount: zakat.DefaultNisab,
		Currency:    zakat.DefaultCurrency,
		ZakatRate:   zakat.DefaultRate,
		Description: "default nisab",
	}
}

// FromConfig builds an Info from an engine config.
func FromConfig(cfg zakat.Config) Info {
	return Info{
		NisabAmount: cfg.NisabAmount,
		Currency:    cfg.Currency,
		ZakatRate:   cfg.Rate,
		Description: "configured nisab",
	}
}

// Config converts the info to an engine config.
func (i Info) Config() zakat.Config {
	return zakat.Config{
		NisabAmount: i.NisabAmount,
		Rate:        i.ZakatRate,
		Currency:    i.Currency,
	}
}

// Validate rejects a negative nisab and a rate outside (0, 1].
func (i Info) Validate() error {
	if err := i.Config().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidNisab, err)
	}
	return nil
}

// Provider returns the current nisab.
type Provider interface {
	Current(ctx context.Context) (Info, error)
}

type staticProvider struct {
	info Info
}

// Static returns a provider that always reports info.
func Static(info Info) Provider {
	return staticProvider{info: info}
}

func (p staticProvider) Current(context.Context) (Info, error) {
	return p.info, nil
}

// Fetcher is the backend call Remote depends on.
type Fetcher interface {
	Nisab(ctx context.Context) (backend.NisabResponse, error)
}

// Remote fetches the nisab from the backend behind a circuit breaker.
// Concurrent calls share one in-flight request.
type Remote struct {
	fetcher  Fetcher
	fallback Info
	strict   bool
	breaker  *gobreaker.CircuitBreaker[Info]
	group    singleflight.Group
	logger   *zap.Logger
}

// RemoteOption configures a Remote.
type RemoteOption func(*remoteOptions)

type remoteOptions struct {
	fallback     Info
	strict       bool
	logger       *zap.Logger
	failures     uint32
	openDuration time.Duration
}

// WithFallback sets the value returned when the backend fails.
func WithFallback(info Info) RemoteOption {
	return func(o *remoteOptions) {
		o.fallback = info
	}
}

// WithStrict makes Current return fetch errors instead of the fallback.
func WithStrict() RemoteOption {
	return func(o *remoteOptions) {
		o.strict = true
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RemoteOption {
	return func(o *remoteOptions) {
		o.logger = l
	}
}

// WithBreaker sets how many consecutive failures open the breaker and how
// long it stays open.
func WithBreaker(failures uint32, open time.Duration) RemoteOption {
	return func(o *remoteOptions) {
		o.failures = failures
		o.openDuration = open
	}
}

// NewRemote creates a backend-backed provider.
func NewRemote(f Fetcher, opts ...RemoteOption) *Remote {
	o := remoteOptions{
		fallback:     Default(),
		logger:       zap.NewNop(),
		failures:     3,
		openDuration: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Remote{
		fetcher:  f,
		fallback: o.fallback,
		strict:   o.strict,
		logger:   o.logger,
	}
	r.breaker = gobreaker.NewCircuitBreaker[Info](gobreaker.Settings{
		Name:    "nisab",
		Timeout: o.openDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= o.failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Info("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return r
}

// Current returns the backend nisab, or the fallback if it cannot be fetched.
func (r *Remote) Current(ctx context.Context) (Info, error) {
	v, err, _ := r.group.Do("nisab", func() (interface{}, error) {
		return r.breaker.Execute(func() (Info, error) {
			return r.fetch(ctx)
		})
	})
	if err != nil {
		if r.strict {
			return Info{}, fmt.Errorf("fetch nisab: %w", err)
		}
		r.logger.Warn("using fallback nisab",
			zap.Error(err),
			zap.String("nisab_amount", r.fallback.NisabAmount.String()),
		)
		return r.fallback, nil
	}
	return v.(Info), nil
}

func (r *Remote) fetch(ctx context.Context) (Info, error) {
	resp, err := r.fetcher.Nisab(ctx)
	if err != nil {
		return Info{}, err
	}

	info := Info{
		NisabAmount: resp.NisabAmount,
		Currency:    resp.Currency,
		ZakatRate:   resp.ZakatRate,
		Description: resp.Description,
	}
	if info.Currency == "" {
		info.Currency = r.fallback.Currency
	}
	if err := info.Validate(); err != nil {
		return Info{}, err
	}
	return info, nil
}
