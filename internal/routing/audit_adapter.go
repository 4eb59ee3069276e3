package routing

import (
	"context"

	"call-router/internal/audit"
)

// AuditAdapter bridges the router's fallback hook to the shared audit.Service,
// keeping routing internals free of persistence concerns.
type AuditAdapter struct {
	Audit *audit.Service
}

func (a AuditAdapter) LogRoutingFallback(ctx context.Context, companyID, callLegID, reason string) error {
	if a.Audit == nil {
		return nil
	}
	return a.Audit.LogRoutingFallback(ctx, companyID, callLegID, reason)
}
