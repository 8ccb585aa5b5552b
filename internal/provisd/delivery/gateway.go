// Package delivery authorizes artifact downloads and turns them into the
// passive telemetry the lifecycle tracker runs on. The gateway never serves
// file bytes; it resolves an allowed request to a backing location for the
// caller to redirect to.
package delivery

import (
	"context"
	"strings"
	"time"

	"github.com/provisboard/provisd/internal/provisd/abuse"
	"github.com/provisboard/provisd/internal/provisd/audit"
	"github.com/provisboard/provisd/internal/provisd/domain"
	"github.com/provisboard/provisd/internal/provisd/token"
	"github.com/provisboard/provisd/pkg/config"
	"github.com/provisboard/provisd/pkg/errors"
	"github.com/provisboard/provisd/pkg/logger"
)

// abuseClass is the action class delivery requests are counted under
const abuseClass = "delivery"

// AccessSink consumes access events from allowed deliveries. The lifecycle
// tracker implements it; swapping the sink is how a future direct callback
// channel would replace passive inference.
type AccessSink interface {
	OnAccessEvent(ctx context.Context, event domain.AccessEvent)
}

// ResolveRequest carries one delivery request's relevant parts
type ResolveRequest struct {
	Addr     string // client address (real or forwarded)
	Region   string // region key from the request path
	Artifact string // requested artifact name
	Token    string // signed delivery token
	Tool     string // declared tool identity
}

// Gateway authorizes delivery requests
type Gateway struct {
	codec           *token.Codec
	guard           *abuse.Guard
	sink            AccessSink
	audit           *audit.Log
	regions         map[string]string
	allowedTools    []string
	blockedTools    []string
	blockedSuffixes []string
	logger          *logger.Logger

	// now is swappable for tests
	now func() time.Time
}

// NewGateway creates a gateway from validated delivery configuration
func NewGateway(cfg *config.DeliveryConfig, codec *token.Codec, guard *abuse.Guard, sink AccessSink, auditLog *audit.Log) *Gateway {
	return &Gateway{
		codec:           codec,
		guard:           guard,
		sink:            sink,
		audit:           auditLog,
		regions:         cfg.Regions,
		allowedTools:    lowerAll(cfg.AllowedTools),
		blockedTools:    lowerAll(cfg.BlockedTools),
		blockedSuffixes: lowerAll(cfg.BlockedSuffixes),
		logger:          logger.WithField("component", "delivery-gateway"),
		now:             time.Now,
	}
}

// Resolve authorizes one delivery request and returns the backing location
// to redirect to. Every denial except an unknown region is the uniform
// errors.ErrDenied so a probing client cannot tell which check failed; the
// region is the one piece of the URL an operator legitimately mistypes, so
// it keeps its distinct error (and its distinct HTTP status).
func (g *Gateway) Resolve(ctx context.Context, req ResolveRequest) (string, error) {
	log := g.logger.WithFields("addr", req.Addr, "artifact", req.Artifact, "region", req.Region)

	if retryAfter, allowed := g.guard.Check(req.Addr, abuseClass); !allowed {
		log.Warn("delivery denied by abuse guard", "retryAfter", retryAfter)
		return "", errors.ErrDenied
	}

	if !g.toolAllowed(req.Tool) {
		log.Debug("delivery denied: tool identity not allowed", "tool", req.Tool)
		g.guard.Record(req.Addr, abuseClass, false)
		return "", errors.ErrDenied
	}

	if g.suffixBlocked(req.Artifact) {
		log.Debug("delivery denied: disallowed artifact suffix")
		g.guard.Record(req.Addr, abuseClass, false)
		return "", errors.ErrDenied
	}

	base, knownRegion := g.regions[req.Region]
	if !knownRegion {
		log.Debug("delivery denied: unknown region")
		g.guard.Record(req.Addr, abuseClass, false)
		return "", errors.ErrUnknownRegion
	}

	if err := g.codec.Verify(req.Addr, req.Artifact, req.Token); err != nil {
		log.Debug("delivery denied: token verification failed", "error", err)
		g.guard.Record(req.Addr, abuseClass, false)
		return "", errors.ErrDenied
	}

	event := domain.AccessEvent{
		Artifact: req.Artifact,
		Tool:     req.Tool,
		Class:    ClassifyTool(req.Tool),
		Addr:     req.Addr,
		Region:   req.Region,
		Time:     g.now(),
	}

	// Fire-and-forget: a lifecycle hiccup must not block the download
	if g.sink != nil {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					g.logger.Error("access sink panicked", "panic", r)
				}
			}()
			g.sink.OnAccessEvent(context.WithoutCancel(ctx), event)
		}()
	}

	if err := g.audit.Append(audit.Entry{
		Time:     event.Time,
		Addr:     req.Addr,
		Region:   req.Region,
		Artifact: req.Artifact,
		Tool:     req.Tool,
		Decision: "allow",
	}); err != nil {
		log.Warn("failed to append audit entry", "error", err)
	}

	log.Info("delivery allowed", "tool", req.Tool, "class", event.Class.String())

	return strings.TrimSuffix(base, "/") + "/" + req.Artifact, nil
}

// toolAllowed applies the blocklist first, then requires an allow-list
// prefix. Browsers and crawlers never get as far as the token check.
func (g *Gateway) toolAllowed(tool string) bool {
	lowered := strings.ToLower(tool)
	if lowered == "" {
		return false
	}
	for _, blocked := range g.blockedTools {
		if strings.Contains(lowered, blocked) {
			return false
		}
	}
	for _, allowed := range g.allowedTools {
		if strings.HasPrefix(lowered, allowed) {
			return true
		}
	}
	return false
}

func (g *Gateway) suffixBlocked(artifact string) bool {
	lowered := strings.ToLower(artifact)
	for _, suffix := range g.blockedSuffixes {
		if strings.HasSuffix(lowered, suffix) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
