package credential

import "context"

type contextKey string

const ctxKeyRequestor contextKey = "requestor_device"

// WithRequestor tags a context with the device making the request. The
// step-up authenticator uses it to decide whose biometric recency to check.
func WithRequestor(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestor, deviceID)
}

// RequestorFromContext returns the requesting device ID, or "".
func RequestorFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestor).(string)
	return id
}
