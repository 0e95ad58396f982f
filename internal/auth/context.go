package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxAccountID ctxKey = iota
	ctxRole
)

func WithIdentity(ctx context.Context, accountID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxAccountID, accountID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func AccountID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxAccountID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("account_id not in context")
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}
