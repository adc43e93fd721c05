package httpapi

import (
	"context"

	"github.com/google/uuid"

	"github.com/escrow-hub/escrow-hub/internal/domain/account"
)

type authContextKey string

const authUserKey authContextKey = "authUser"

// AuthUser represents the authenticated account in context.
type AuthUser struct {
	AccountID uuid.UUID
	Username  string
	Role      account.Role
	SessionID uuid.UUID
}

func (u AuthUser) ActorString() string {
	return "account:" + u.Username
}

func withAuthUser(ctx context.Context, u *AuthUser) context.Context {
	if u == nil {
		return ctx
	}
	return context.WithValue(ctx, authUserKey, u)
}

func authUserFromContext(ctx context.Context) *AuthUser {
	val := ctx.Value(authUserKey)
	if v, ok := val.(*AuthUser); ok {
		return v
	}
	return nil
}
