// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"

	"github.com/hitoshi/hopehub/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// identityContextKey はリクエストコンテキストに認証済みIdentityを格納するためのキー。
	identityContextKey = contextKey("identity")
	// identitySlotContextKey はロギングミドルウェアが用意する書き戻し用スロットのキー。
	identitySlotContextKey = contextKey("identity_slot")
)

// identitySlot は下流のGuardが解決したIdentityを上流のミドルウェアへ伝える。
type identitySlot struct {
	identity model.Identity
}

// ContextWithIdentity はコンテキストにIdentityを注入する。
// テストやミドルウェア以外のコンテキスト生成でも使用する。
func ContextWithIdentity(ctx context.Context, identity model.Identity) context.Context {
	if slot, ok := ctx.Value(identitySlotContextKey).(*identitySlot); ok {
		slot.identity = identity
	}
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext はリクエストコンテキストから認証済みIdentityを取得する。
// Guardを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(model.Identity)
	if !ok || identity.ID == "" {
		return model.Identity{}, false
	}
	return identity, true
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("user ID not found in context")
	}
	return identity.ID, nil
}

func withIdentitySlot(ctx context.Context) (context.Context, *identitySlot) {
	slot := &identitySlot{}
	return context.WithValue(ctx, identitySlotContextKey, slot), slot
}
