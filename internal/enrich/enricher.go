// Package enrich provides the production audit enricher: it joins session,
// organization and geo-IP context onto events by actor and source IP. Every
// lookup is best-effort; a failed or missing collaborator yields missing
// context, never a pipeline failure.
package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/devlens-io/devlens/internal/audit"
	"github.com/devlens-io/devlens/internal/store"
)

// GeoResolver resolves a source IP to coarse location context.
type GeoResolver interface {
	// Lookup returns location info for ip, or an error when unknown.
	Lookup(ctx context.Context, ip string) (*audit.GeoIPInfo, error)
}

// lookupTimeout bounds each collaborator call so a slow store cannot stall
// the dispatcher.
const lookupTimeout = 2 * time.Second

// ContextEnricher is the production audit.Enricher. Any collaborator may be
// nil; its context is simply skipped.
type ContextEnricher struct {
	sessions store.SessionStore
	orgs     store.OrgStore
	geo      GeoResolver
	logger   zerolog.Logger
}

// New builds the enricher.
func New(sessions store.SessionStore, orgs store.OrgStore, geo GeoResolver, logger zerolog.Logger) *ContextEnricher {
	return &ContextEnricher{
		sessions: sessions,
		orgs:     orgs,
		geo:      geo,
		logger:   logger.With().Str("component", "audit.enrich").Logger(),
	}
}

// Enrich joins whatever context the collaborators can provide. The base
// event is returned unchanged inside the result; enrichment is additive.
func (e *ContextEnricher) Enrich(ctx context.Context, event audit.Event) audit.EnrichedEvent {
	out := audit.EnrichedEvent{Base: event}

	userID := ""
	if event.Actor != nil {
		userID = event.Actor.UserID
	}
	if userID == "" && event.SourceIP == "" {
		return out
	}

	lookupCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	if userID != "" && e.sessions != nil {
		if session, err := e.sessions.GetActiveSession(lookupCtx, userID); err == nil {
			out.Session = &audit.SessionContext{
				SessionID:   session.ID,
				SessionType: session.SessionType,
				DeviceLabel: session.DeviceLabel,
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			e.logger.Warn().Err(err).Str("user_id", userID).Msg("session lookup failed")
		}
	}

	if event.SourceIP != "" && e.geo != nil {
		if geo, err := e.geo.Lookup(lookupCtx, event.SourceIP); err == nil && geo != nil {
			if out.Session == nil {
				out.Session = &audit.SessionContext{}
			}
			out.Session.Geo = geo
		} else if err != nil {
			e.logger.Warn().Err(err).Msg("geo lookup failed")
		}
	}

	if userID != "" && e.orgs != nil {
		if m, err := e.orgs.GetMembership(lookupCtx, userID); err == nil {
			out.Org = &audit.OrgContext{
				OrgID:    m.OrgID,
				OrgSlug:  m.OrgSlug,
				OrgRole:  m.OrgRole,
				TeamID:   m.TeamID,
				TeamRole: m.TeamRole,
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			e.logger.Warn().Err(err).Str("user_id", userID).Msg("org lookup failed")
		}
	}

	return out
}
