package httpx

import "context"

// ownerKey is an unexported context key type to avoid collisions across packages.
type ownerKey struct{}

// SetOwnerInContext returns a child context carrying the caller's owner id.
// An empty id returns the original context unchanged.
func SetOwnerInContext(ctx context.Context, ownerID string) context.Context {
	if ownerID == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// GetOwnerFromContext returns the caller's owner id and whether one is present.
func GetOwnerFromContext(ctx context.Context) (string, bool) {
	if id, ok := ctx.Value(ownerKey{}).(string); ok && id != "" {
		return id, true
	}
	return "", false
}
