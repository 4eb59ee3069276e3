package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxCompanyID
	ctxAgentID
	ctxRole
)

// Identity is the authenticated caller of an API request.
type Identity struct {
	UserID    string
	CompanyID string
	AgentID   string
	Role      string
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, id.UserID)
	ctx = context.WithValue(ctx, ctxCompanyID, id.CompanyID)
	ctx = context.WithValue(ctx, ctxAgentID, id.AgentID)
	ctx = context.WithValue(ctx, ctxRole, id.Role)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	return value(ctx, ctxUserID, "user_id")
}

func CompanyID(ctx context.Context) (string, error) {
	return value(ctx, ctxCompanyID, "company_id")
}

func AgentID(ctx context.Context) (string, error) {
	return value(ctx, ctxAgentID, "agent_id")
}

func Role(ctx context.Context) (string, error) {
	return value(ctx, ctxRole, "role")
}

func value(ctx context.Context, key ctxKey, name string) (string, error) {
	if s, ok := ctx.Value(key).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New(name + " not in context")
}
