package authcore

import "context"

// clientInfo is what the transport knows about the caller.
type clientInfo struct {
	ip        string
	userAgent string
}

type clientInfoKey struct{}

func clientFrom(ctx context.Context) clientInfo {
	if ctx == nil {
		return clientInfo{}
	}
	info, _ := ctx.Value(clientInfoKey{}).(clientInfo)
	return info
}

// WithClientIP records the caller's address. Login throttling keys on it and
// audit events carry it.
func WithClientIP(ctx context.Context, ip string) context.Context {
	info := clientFrom(ctx)
	info.ip = ip
	return context.WithValue(ctx, clientInfoKey{}, info)
}

// WithUserAgent records the caller's User-Agent for audit events.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	info := clientFrom(ctx)
	info.userAgent = userAgent
	return context.WithValue(ctx, clientInfoKey{}, info)
}

func clientIPFromContext(ctx context.Context) string { return clientFrom(ctx).ip }

func userAgentFromContext(ctx context.Context) string { return clientFrom(ctx).userAgent }
