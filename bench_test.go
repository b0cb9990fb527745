package authcore

import (
	"context"
	"testing"
)

func BenchmarkValidateAccess(b *testing.B) {
	engine := newTestEngine(b)
	registerVerified(b, engine, "bench", "bench@x.test")
	res, err := engine.Login(context.Background(), "bench", testPassword)
	if err != nil {
		b.Fatalf("login: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.ValidateAccess(res.Tokens.AccessToken); err != nil {
			b.Fatalf("validate: %v", err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	engine := newTestEngine(b)
	registerVerified(b, engine, "bench", "bench@x.test")
	ctx := context.Background()
	res, err := engine.Login(ctx, "bench", testPassword)
	if err != nil {
		b.Fatalf("login: %v", err)
	}
	token := res.Tokens.RefreshToken

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out, err := engine.Refresh(ctx, token)
		if err != nil {
			b.Fatalf("refresh: %v", err)
		}
		token = out.Tokens.RefreshToken
	}
}
