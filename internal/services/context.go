package services

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

var (
	userIDKey ctxKey = "user_id"
	claimsKey ctxKey = "claims"
)

func WithUserContext(ctx context.Context, userID uuid.UUID, claims AccessClaims) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, claimsKey, claims)
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDKey).(uuid.UUID)
	return userID, ok
}

func ClaimsFromContext(ctx context.Context) (AccessClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(AccessClaims)
	return claims, ok
}
