package models

import "context"

type requestIdKey struct{}

// WithRequestId tags ctx with the id of the inbound request or message.
func WithRequestId(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIdKey{}, id)
}

// GetRequestId returns the request id carried by ctx, or "".
func GetRequestId(ctx context.Context) string {
	id, _ := ctx.Value(requestIdKey{}).(string)
	return id
}
