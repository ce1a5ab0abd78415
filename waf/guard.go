// Package waf wires the individual defenses into a single request guard.
package waf

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"rhinoguard/waf/audit"
	"rhinoguard/waf/autoban"
	"rhinoguard/waf/bodylimits"
	"rhinoguard/waf/clock"
	"rhinoguard/waf/config"
	"rhinoguard/waf/ddos"
	"rhinoguard/waf/headers"
	"rhinoguard/waf/logging"
	"rhinoguard/waf/metrics"
	"rhinoguard/waf/requestid"
	"rhinoguard/waf/security"
	"rhinoguard/waf/signature"
	"rhinoguard/waf/templates"
	"rhinoguard/waf/verdict"
)

// Stage names the check that produced a decision
type Stage string

const (
	StageIdentity  Stage = "identity"
	StageBan       Stage = "ban"
	StageSize      Stage = "size"
	StageRate      Stage = "rate"
	StageSignature Stage = "signature"
	StageForward   Stage = "forward"
)

// Decision is what the guard concluded about one request
type Decision struct {
	Client     string         `json:"client"`
	Unresolved bool           `json:"unresolved,omitempty"`
	Reason     verdict.Reason `json:"reason"`
	Stage      Stage          `json:"stage"`
	Status     int            `json:"status"`
	RetryAfter time.Duration  `json:"retry_after,omitempty"`
	Detail     string         `json:"detail,omitempty"`
}

// Blocked reports whether the request was refused before or instead of
// reaching the application
func (d Decision) Blocked() bool {
	return d.Reason.Blocked()
}

// pipeline is everything derived from one configuration. It is swapped as
// a whole so a request never sees half of a reload.
type pipeline struct {
	cfg      *config.Config
	resolver *security.Resolver
	limiter  *bodylimits.Limiter
	matcher  *signature.Matcher
	injector *headers.Injector
	pages    *templates.Pages
}

func newPipeline(cfg *config.Config) (*pipeline, error) {
	resolver, err := security.NewResolver(cfg.ResolverConfig())
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	matcher, err := signature.New(cfg.SignatureSet())
	if err != nil {
		return nil, fmt.Errorf("signatures: %w", err)
	}
	pages, err := templates.LoadPages(cfg.BlockPages)
	if err != nil {
		return nil, err
	}
	return &pipeline{
		cfg:      cfg,
		resolver: resolver,
		limiter:  bodylimits.NewLimiter(cfg.LimiterConfig()),
		matcher:  matcher,
		injector: headers.NewInjector(cfg.InjectorConfig()),
		pages:    pages,
	}, nil
}

// Guard sits in front of an http.Handler and decides, per request, whether
// it may pass. Rate windows and bans live for the lifetime of the Guard.
type Guard struct {
	clock   clock.Clock
	log     zerolog.Logger
	tracker *ddos.Tracker
	bans    *autoban.Table
	ring    *audit.Ring
	locks   *clientLocks

	current atomic.Pointer[pipeline]
}

type Option func(*Guard)

func WithClock(c clock.Clock) Option {
	return func(g *Guard) { g.clock = c }
}

// WithRing makes the guard append to an existing audit ring
func WithRing(r *audit.Ring) Option {
	return func(g *Guard) { g.ring = r }
}

func WithLogger(l zerolog.Logger) Option {
	return func(g *Guard) { g.log = l }
}

func NewGuard(cfg *config.Config, opts ...Option) (*Guard, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p, err := newPipeline(cfg)
	if err != nil {
		return nil, err
	}

	g := &Guard{log: logging.With("guard")}
	for _, opt := range opts {
		opt(g)
	}
	g.clock = clock.OrReal(g.clock)
	if g.ring == nil {
		g.ring = audit.NewRing(cfg.Audit.Capacity)
	}
	g.tracker = ddos.NewTracker(cfg.TrackerConfig(), g.clock)
	g.bans = autoban.NewTable(cfg.TableConfig(), g.clock)
	g.locks = newClientLocks(g.tracker.Config().Shards)
	g.current.Store(p)

	return g, nil
}

// Apply switches to cfg for all subsequent requests. Rate windows and bans
// are kept. An invalid cfg is rejected and the old one stays in place.
func (g *Guard) Apply(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("nil configuration")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}

	g.tracker.Reconfigure(cfg.TrackerConfig())
	g.bans.Reconfigure(cfg.TableConfig())
	g.current.Store(p)

	if cfg.Audit.Capacity != g.ring.Cap() {
		g.log.Warn().
			Int("configured", cfg.Audit.Capacity).
			Int("current", g.ring.Cap()).
			Msg("Audit capacity changes take effect on restart")
	}
	return nil
}

// Config returns the configuration currently in effect
func (g *Guard) Config() *config.Config {
	return g.current.Load().cfg
}

func (g *Guard) Ring() *audit.Ring         { return g.ring }
func (g *Guard) Tracker() *ddos.Tracker    { return g.tracker }
func (g *Guard) Bans() *autoban.Table      { return g.bans }
func (g *Guard) Clock() clock.Clock        { return g.clock }
func (g *Guard) Signatures() int           { return g.current.Load().matcher.Len() }
func (g *Guard) Headers() []headers.Header { return g.current.Load().injector.Headers() }

// Evaluate runs the checks that come before forwarding, including their
// effect on rate and ban state. It writes no response and no audit record.
func (g *Guard) Evaluate(r *http.Request) Decision {
	return g.evaluate(r, g.current.Load(), g.clock.Now())
}

func (g *Guard) evaluate(r *http.Request, p *pipeline, now time.Time) Decision {
	client := p.resolver.ResolveRequest(r)
	d := Decision{
		Client:     client,
		Unresolved: client == security.Unknown,
		Reason:     verdict.Allowed,
		Stage:      StageIdentity,
		Status:     http.StatusOK,
	}

	// one client at a time from the ban check to the strike
	mu := g.locks.lock(client)
	defer mu.Unlock()

	d.Stage = StageBan
	if banned, remaining := g.bans.IsBanned(client, now); banned {
		return d.block(verdict.Banned, remaining, fmt.Sprintf("banned for another %s", remaining.Round(time.Second)))
	}

	d.Stage = StageSize
	if err := p.limiter.CheckDeclared(r.URL.Path, r.ContentLength); err != nil {
		return g.escalate(d.block(verdict.FromError(err), 0, err.Error()), now)
	}

	d.Stage = StageRate
	if res := g.tracker.RecordAndCheck(client, now); res.Exceeded {
		return g.escalate(d.block(verdict.RateExceeded, 0,
			fmt.Sprintf("%d requests in %s, limit %d", res.Count, p.cfg.Rate.Window, res.Limit)), now)
	}

	d.Stage = StageSignature
	if m, ok := p.matcher.Match(r.URL.Path, r.URL.RawQuery, r.Header); ok {
		metrics.SignatureMatches.WithLabelValues(m.Name).Inc()
		return g.escalate(d.block(verdict.SuspiciousSignature, 0, "signature "+m.Name), now)
	}

	return d
}

// escalate records a strike for reasons that earn one. A rate block then
// tells the client how long the resulting ban lasts.
func (g *Guard) escalate(d Decision, now time.Time) Decision {
	if !d.Reason.Escalates() {
		return d
	}
	e := g.violation(d.Client, now, d.Reason)
	if d.Reason == verdict.RateExceeded {
		d.RetryAfter = e.Remaining(now)
	}
	return d
}

func (d Decision) block(reason verdict.Reason, retryAfter time.Duration, detail string) Decision {
	d.Reason = reason
	d.Status = reason.Status()
	d.RetryAfter = retryAfter
	d.Detail = detail
	return d
}

func (g *Guard) violation(client string, now time.Time, reason verdict.Reason) autoban.Entry {
	e := g.bans.RecordViolation(client, now, reason)
	metrics.BansIssued.WithLabelValues(string(reason)).Inc()
	g.log.Info().
		Str("client", client).
		Str("reason", string(reason)).
		Int("strikes", e.Strikes).
		Time("expires_at", e.ExpiresAt).
		Msg("Client banned")
	return e
}

// Protect wraps next with the guard. Every response, including block pages
// and recovered panics, leaves with the configured headers, and every
// request produces exactly one audit record.
func (g *Guard) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := g.clock.Now()
		p := g.current.Load()
		hw := p.injector.Wrap(w)

		d := g.evaluate(r, p, start)
		if d.Blocked() {
			p.pages.Render(hw, r, d.Reason, d.RetryAfter, requestid.FromRequest(r))
		} else {
			d = g.forward(hw, r, next, p, d)
		}
		hw.Commit()

		g.finish(r, d, g.clock.Now().Sub(start))
	})
}

// Harden gives next's responses the configured header set without running
// any request checks. For operator endpoints that must never be banned.
func (g *Guard) Harden(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hw := g.current.Load().injector.Wrap(w)
		next.ServeHTTP(hw, r)
		hw.Commit()
	})
}

func (g *Guard) forward(w *headers.Writer, r *http.Request, next http.Handler, p *pipeline, d Decision) (out Decision) {
	out = d
	out.Stage = StageForward

	var body *bodylimits.Reader
	if r.Body != nil && r.Body != http.NoBody {
		body = p.limiter.Wrap(r.URL.Path, r.Body)
		r.Body = body
	}

	defer func() {
		v := recover()
		if v == nil {
			return
		}
		metrics.DownstreamFaults.Inc()
		g.log.Error().
			Str("client", out.Client).
			Str("path", r.URL.Path).
			Str("request_id", requestid.FromRequest(r)).
			Interface("panic", v).
			Bytes("stack", debug.Stack()).
			Msg("Recovered panic in downstream handler")

		out.Reason = verdict.DownstreamFault
		out.Detail = fmt.Sprintf("panic: %v", v)
		if w.WroteHeader() {
			out.Status = w.Status()
			return
		}
		p.pages.Render(w, r, verdict.DownstreamFault, 0, requestid.FromRequest(r))
		out.Status = http.StatusInternalServerError
	}()

	next.ServeHTTP(w, r)

	if body != nil && body.Tripped() {
		if !w.WroteHeader() {
			p.pages.Render(w, r, verdict.PayloadTooLarge, 0, requestid.FromRequest(r))
			return out.block(verdict.PayloadTooLarge, 0, fmt.Sprintf("body exceeded %d bytes", body.Limit()))
		}
		// the application already answered; record why its body was cut short
		out.Reason = verdict.PayloadTooLarge
		out.Detail = fmt.Sprintf("body exceeded %d bytes after the response started", body.Limit())
	}

	out.Status = w.Status()
	if out.Status == 0 {
		out.Status = http.StatusOK
	}
	return out
}

func (g *Guard) finish(r *http.Request, d Decision, elapsed time.Duration) {
	rec := audit.Record{
		Time:      g.clock.Now(),
		Client:    d.Client,
		Decision:  decisionOf(d.Reason),
		Reason:    d.Reason,
		Detail:    d.Detail,
		Method:    r.Method,
		Path:      r.URL.Path,
		Status:    d.Status,
		Latency:   elapsed,
		RequestID: requestid.FromRequest(r),
	}
	if d.Unresolved {
		rec.Flags = []string{audit.FlagUnresolvedClient}
	}
	rec = g.ring.Append(rec)

	metrics.ObserveRequest(r.Method, string(d.Reason), d.Blocked(), d.Status, elapsed)

	ev := g.log.Debug()
	if d.Reason != verdict.Allowed {
		ev = g.log.Warn()
	}
	ev.Uint64("seq", rec.Seq).
		Str("client", d.Client).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("reason", string(d.Reason)).
		Str("stage", string(d.Stage)).
		Int("status", d.Status).
		Dur("latency", elapsed).
		Str("request_id", rec.RequestID).
		Err(d.Reason.Err()).
		Msg("Request handled")
}

func decisionOf(r verdict.Reason) audit.Decision {
	switch {
	case r == verdict.DownstreamFault:
		return audit.DecisionFault
	case r.Blocked():
		return audit.DecisionBlocked
	}
	return audit.DecisionAllowed
}

// SweepResult counts what one sweep removed
type SweepResult struct {
	Windows int `json:"windows"`
	Bans    int `json:"bans"`
}

// Sweep drops idle rate windows and long-expired bans and refreshes the
// state gauges
func (g *Guard) Sweep(now time.Time) SweepResult {
	res := SweepResult{
		Windows: g.tracker.Sweep(now),
		Bans:    g.bans.Sweep(now),
	}
	metrics.SweepRemoved.WithLabelValues("rate").Add(float64(res.Windows))
	metrics.SweepRemoved.WithLabelValues("ban").Add(float64(res.Bans))
	metrics.TrackedClients.Set(float64(g.tracker.Len()))
	metrics.BannedClients.Set(float64(g.bans.Active(now)))
	return res
}

type Stats struct {
	TrackedClients   int    `json:"tracked_clients"`
	BanEntries       int    `json:"ban_entries"`
	ActiveBans       int    `json:"active_bans"`
	Signatures       int    `json:"signatures"`
	AuditRecords     int    `json:"audit_records"`
	AuditCapacity    int    `json:"audit_capacity"`
	AuditOverwritten uint64 `json:"audit_overwritten"`
	AuditLastSeq     uint64 `json:"audit_last_seq"`
}

func (g *Guard) Stats() Stats {
	now := g.clock.Now()
	return Stats{
		TrackedClients:   g.tracker.Len(),
		BanEntries:       g.bans.Len(),
		ActiveBans:       g.bans.Active(now),
		Signatures:       g.Signatures(),
		AuditRecords:     g.ring.Len(),
		AuditCapacity:    g.ring.Cap(),
		AuditOverwritten: g.ring.Overwritten(),
		AuditLastSeq:     g.ring.LastSeq(),
	}
}
