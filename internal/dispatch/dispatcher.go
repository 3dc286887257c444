// Package dispatch routes verification requests to carriers and records
// every attempt.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/telecomverify/telecom/internal/balancer"
	"github.com/telecomverify/telecom/internal/provider"
	"github.com/telecomverify/telecom/internal/verification"
)

var (
	// ErrNoProvidersConfigured is returned by New when no providers are given.
	ErrNoProvidersConfigured = errors.New("no providers configured")

	// ErrNoProvidersAvailable is returned by Dispatch when the balancer cannot
	// select a provider.
	ErrNoProvidersAvailable = errors.New("no carriers found")

	// ErrDuplicateProvider is returned by New when two providers share a name.
	ErrDuplicateProvider = errors.New("duplicate provider name")

	// ErrCountryNotAllowed is returned when the number's country is not in the allow-list.
	ErrCountryNotAllowed = errors.New("country not allowed")

	// ErrProviderPanicked wraps a panic raised inside a provider's Attempt.
	ErrProviderPanicked = errors.New("provider panicked")
)

const defaultAttemptTimeout = 10 * time.Second

// Emitter receives every recorded attempt.
type Emitter interface {
	Emit(a verification.Attempt)
}

// Request is an inbound verification request. Time is the caller's unix
// timestamp in seconds and is kept on the attempt for correlation.
type Request struct {
	Number string
	Time   int64
}

// Outcome is what Dispatch reports for one request.
type Outcome struct {
	Attempt   verification.Attempt
	Token     string
	ExpiresAt time.Time
	Err       error // provider failure, nil on success
}

// Success reports whether the provider delivered the verification.
func (o *Outcome) Success() bool { return o.Attempt.Outcome == verification.Success }

// Dispatcher owns the provider registry, the balancer and the attempt repo.
// The registry is immutable after New.
type Dispatcher struct {
	providers []provider.Provider
	byName    map[string]provider.Provider
	balancer  balancer.Balancer
	repo      *verification.Repo

	channel          provider.Channel
	escalate         bool
	attemptTimeout   time.Duration
	codeLength       int
	allowedCountries []string
	tokens           *TokenIssuer
	emitter          Emitter
	logger           *slog.Logger
	now              func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRepo sets the attempt repo. Defaults to an empty count-scored repo.
func WithRepo(r *verification.Repo) Option { return func(d *Dispatcher) { d.repo = r } }

// WithChannel sets the channel used for every attempt. Defaults to sms.
func WithChannel(ch provider.Channel) Option { return func(d *Dispatcher) { d.channel = ch } }

// WithEscalation makes each request climb verification.Ladder (sms, sms,
// voice, voice) on the selected carrier until a rung delivers. The
// configured channel is ignored while escalating.
func WithEscalation(on bool) Option { return func(d *Dispatcher) { d.escalate = on } }

// WithAttemptTimeout bounds each provider attempt. Zero or negative disables the bound.
func WithAttemptTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.attemptTimeout = t }
}

// WithCodeLength sets the number of digits in generated codes.
func WithCodeLength(n int) Option { return func(d *Dispatcher) { d.codeLength = n } }

// WithAllowedCountries restricts numbers to the given ISO country codes.
func WithAllowedCountries(cc []string) Option {
	return func(d *Dispatcher) { d.allowedCountries = cc }
}

// WithTokenIssuer enables tokens on successful verifications.
func WithTokenIssuer(ti *TokenIssuer) Option { return func(d *Dispatcher) { d.tokens = ti } }

// WithEmitter streams recorded attempts to e.
func WithEmitter(e Emitter) Option { return func(d *Dispatcher) { d.emitter = e } }

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// WithClock overrides the attempt timestamp source.
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// New builds a Dispatcher over providers in registration order, balanced by kind.
func New(providers []provider.Provider, kind balancer.Kind, opts ...Option) (*Dispatcher, error) {
	if len(providers) == 0 {
		return nil, ErrNoProvidersConfigured
	}

	d := &Dispatcher{
		providers:      append([]provider.Provider(nil), providers...),
		byName:         make(map[string]provider.Provider, len(providers)),
		channel:        provider.ChannelSMS,
		attemptTimeout: defaultAttemptTimeout,
		codeLength:     defaultCodeLength,
		now:            time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	if d.repo == nil {
		d.repo = verification.NewRepo()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}

	ids := make([]string, 0, len(providers))
	for _, p := range providers {
		name := p.Name()
		if _, dup := d.byName[name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateProvider, name)
		}
		d.byName[name] = p
		ids = append(ids, name)
	}

	b, err := balancer.New(kind, ids, d.repo)
	if err != nil {
		return nil, err
	}
	d.balancer = b
	return d, nil
}

// Repo returns the attempt repo.
func (d *Dispatcher) Repo() *verification.Repo { return d.repo }

// Channel returns the channel used for attempts.
func (d *Dispatcher) Channel() provider.Channel { return d.channel }

// Escalating reports whether requests climb the delivery ladder.
func (d *Dispatcher) Escalating() bool { return d.escalate }

// Providers returns the registered provider names in registration order.
func (d *Dispatcher) Providers() []string {
	names := make([]string, len(d.providers))
	for i, p := range d.providers {
		names[i] = p.Name()
	}
	return names
}

// Provider looks up a registered provider by name.
func (d *Dispatcher) Provider(name string) (provider.Provider, bool) {
	p, ok := d.byName[name]
	return p, ok
}

// Dispatch sends one verification. Invalid numbers and an empty balancer are
// returned as errors without recording; every selected provider yields a
// recorded attempt, including timeouts and canceled requests. A provider
// failure is reported in the Outcome, not as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Outcome, error) {
	number, err := provider.NormalizePhone(req.Number)
	if err != nil {
		return nil, err
	}
	if !provider.IsAllowedCountry(number, d.allowedCountries) {
		return nil, fmt.Errorf("%w: %s", ErrCountryNotAllowed, provider.PhoneCountry(number))
	}

	carrier, err := d.balancer.Select()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoProvidersAvailable, err)
	}
	p, ok := d.byName[carrier]
	if !ok {
		return nil, fmt.Errorf("%w: unknown carrier %q", ErrNoProvidersAvailable, carrier)
	}

	attempt := verification.Attempt{
		ID:          uuid.NewString(),
		Carrier:     carrier,
		Channel:     d.channel,
		Number:      number,
		RequestTime: req.Time,
	}

	code, err := generateCode(d.codeLength)
	var result *provider.Result
	var reason verification.Reason
	switch {
	case err != nil:
		reason = verification.ReasonError
	case d.escalate:
		result, attempt.Step, attempt.Channel, reason, err = d.climb(ctx, p, number, code)
	default:
		result, reason, err = d.attempt(ctx, p, provider.Request{To: number, Channel: d.channel, Code: code})
	}

	attempt.Timestamp = d.now()
	if err != nil {
		attempt.Outcome = verification.Failure
		attempt.Reason = reason
	} else {
		attempt.Outcome = verification.Success
		if result != nil {
			attempt.MessageID = result.MessageID
		}
	}
	attempt = d.repo.Record(attempt)

	if d.emitter != nil {
		d.emitter.Emit(attempt)
	}

	out := &Outcome{Attempt: attempt, Err: err}
	if err != nil {
		d.logger.Warn("verification attempt failed",
			"carrier", carrier, "channel", attempt.Channel, "step", attempt.Step, "reason", reason, "error", err)
		return out, nil
	}

	d.logger.Debug("verification attempt succeeded",
		"carrier", carrier, "channel", attempt.Channel, "step", attempt.Step, "id", attempt.ID)
	if d.tokens != nil {
		token, expires, terr := d.tokens.Issue(number, carrier, string(attempt.Channel), attempt.Timestamp)
		if terr != nil {
			return out, terr
		}
		out.Token, out.ExpiresAt = token, expires
	}
	return out, nil
}

// climb tries each rung of the ladder on p until one delivers. A canceled
// request stops the climb early. Every rung gets its own attempt timeout.
func (d *Dispatcher) climb(ctx context.Context, p provider.Provider, to, code string) (*provider.Result, verification.Step, provider.Channel, verification.Reason, error) {
	var (
		ch     provider.Channel
		reason verification.Reason
		err    error
	)
	for _, step := range verification.Ladder {
		if step.Channel() == "" {
			break
		}
		ch = step.Channel()
		var res *provider.Result
		res, reason, err = d.attempt(ctx, p, provider.Request{To: to, Channel: ch, Code: code})
		if err == nil {
			return res, step, ch, verification.ReasonNone, nil
		}
		d.logger.Debug("verification step failed", "carrier", p.Name(), "step", step, "reason", reason, "error", err)
		if reason == verification.ReasonCanceled {
			break
		}
	}
	return nil, verification.StepUnreachable, ch, reason, err
}

type attemptResult struct {
	result *provider.Result
	err    error
}

// attempt runs the provider call without holding any lock and bounds it by
// the attempt timeout, even if the provider ignores ctx.
func (d *Dispatcher) attempt(ctx context.Context, p provider.Provider, req provider.Request) (*provider.Result, verification.Reason, error) {
	var (
		actx   context.Context
		cancel context.CancelFunc
	)
	if d.attemptTimeout > 0 {
		actx, cancel = context.WithTimeout(ctx, d.attemptTimeout)
	} else {
		actx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	ch := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				d.logger.Error("provider panicked", "carrier", p.Name(), "panic", v)
				ch <- attemptResult{err: fmt.Errorf("%w: %s: %v", ErrProviderPanicked, p.Name(), v)}
			}
		}()
		r, err := p.Attempt(actx, req)
		ch <- attemptResult{result: r, err: err}
	}()

	select {
	case res := <-ch:
		if res.err == nil {
			return res.result, verification.ReasonNone, nil
		}
		return nil, classify(ctx, actx, res.err), res.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return nil, verification.ReasonCanceled, ctx.Err()
		}
		return nil, verification.ReasonTimeout, fmt.Errorf("attempt timed out after %s: %w", d.attemptTimeout, actx.Err())
	}
}

func classify(ctx, actx context.Context, err error) verification.Reason {
	switch {
	case ctx.Err() != nil:
		return verification.ReasonCanceled
	case actx.Err() != nil && errors.Is(err, context.DeadlineExceeded):
		return verification.ReasonTimeout
	case errors.Is(err, provider.ErrUndelivered):
		return verification.ReasonUndelivered
	default:
		return verification.ReasonError
	}
}
