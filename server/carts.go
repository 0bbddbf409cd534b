package server

import (
	"context"
	"sync"

	"github.com/vitwit/stablepay/types"
)

// CartSessions resolves the payment session a storefront cart is paying with.
type CartSessions interface {
	Bind(ctx context.Context, cartID, sessionID string) error
	SessionForCart(ctx context.Context, cartID string) (string, error)
}

// MemoryCarts keeps the latest session per cart in process memory.
type MemoryCarts struct {
	mu    sync.RWMutex
	carts map[string]string
}

func NewMemoryCarts() *MemoryCarts {
	return &MemoryCarts{carts: make(map[string]string)}
}

// Bind points cartID at sessionID, replacing any earlier session.
func (c *MemoryCarts) Bind(_ context.Context, cartID, sessionID string) error {
	if cartID == "" || sessionID == "" {
		return types.NewError(types.ErrInputValidation, "cart id and session id are required")
	}
	c.mu.Lock()
	c.carts[cartID] = sessionID
	c.mu.Unlock()
	return nil
}

func (c *MemoryCarts) SessionForCart(_ context.Context, cartID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.carts[cartID]
	if !ok {
		return "", types.NewError(types.ErrSessionNotFound, "no active Solana payment session found for cart %s", cartID)
	}
	return id, nil
}
