// Package authz is the authorization core of the collaboration platform:
// it decides which principals hold which role on which resources, resolves
// grants transitively through nested group membership, and produces
// auditable deltas for bulk role changes.
//
// The package wires the subsystems together; the pieces live in their own
// packages (ident, role, membership, delta, resolver, invitation,
// deletion, audit) and can be composed directly when the defaults don't
// fit.
package authz

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/collabstack/authz/audit"
	"github.com/collabstack/authz/deletion"
	"github.com/collabstack/authz/gormstore"
	"github.com/collabstack/authz/invitation"
	"github.com/collabstack/authz/membership"
	"github.com/collabstack/authz/resolver"
	"github.com/collabstack/authz/telemetry"
)

// Core bundles the collaborator-facing managers of the authz system.
type Core struct {
	Service     *Service
	Resolver    *resolver.Resolver
	Invitations *invitation.Ledger
	Deletion    *deletion.Coordinator
}

// CoreOption configures the assembled system.
type CoreOption func(*coreConfig)

type coreConfig struct {
	tel *telemetry.Provider
}

// WithTelemetryProvider wires metric recording into the resolver and the
// grant write path.
func WithTelemetryProvider(tel *telemetry.Provider) CoreOption {
	return func(c *coreConfig) {
		c.tel = tel
	}
}

// NewCore assembles the authz system from explicit stores.
func NewCore(
	grants membership.Store,
	cache resolver.Cache,
	invitations invitation.Store,
	tombstones deletion.Tombstones,
	auditStore audit.Store,
	log *zap.Logger,
	opts ...CoreOption,
) *Core {
	if log == nil {
		log = zap.NewNop()
	}
	var cfg coreConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	recorder := audit.NewRecorder(auditStore, log)
	res := resolver.New(grants, cache,
		resolver.WithLogger(log),
		// Tombstoned groups keep their grant rows but stop conferring roles.
		resolver.WithGroupFilter(tombstones.FilterLive),
		resolver.WithTelemetry(cfg.tel),
	)
	coordinator := deletion.NewCoordinator(tombstones, res,
		deletion.WithLogger(log),
		deletion.WithAudit(recorder),
	)
	service := NewService(grants, res,
		WithDeletion(coordinator),
		WithAudit(recorder),
		WithTelemetry(cfg.tel),
		WithServiceLogger(log),
	)
	ledger := invitation.NewLedger(invitations, service, invitation.WithLogger(log))

	return &Core{
		Service:     service,
		Resolver:    res,
		Invitations: ledger,
		Deletion:    coordinator,
	}
}

// NewMemoryCore assembles a fully in-memory system, the default for tests
// and single-instance development.
func NewMemoryCore(log *zap.Logger, opts ...CoreOption) *Core {
	return NewCore(
		membership.NewMemoryStore(),
		resolver.NewMemoryCache(),
		invitation.NewMemoryStore(),
		deletion.NewMemoryTombstones(),
		audit.NewMemoryStore(),
		log,
		opts...,
	)
}

// NewGormCore assembles a system persisted through GORM. Pass a Redis
// cache for multi-instance deployments; a nil cache falls back to an
// in-process one.
func NewGormCore(db *gorm.DB, cache resolver.Cache, log *zap.Logger, opts ...CoreOption) *Core {
	if cache == nil {
		cache = resolver.NewMemoryCache()
	}
	return NewCore(
		gormstore.NewGrantStore(db),
		cache,
		gormstore.NewInvitationStore(db),
		gormstore.NewTombstoneStore(db),
		gormstore.NewAuditStore(db),
		log,
		opts...,
	)
}
