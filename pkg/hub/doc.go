// Package hub runs one serialized writer per chat channel.
//
// Invariants:
// - Every append for a channel goes through that channel's Hub goroutine, so
//   offsets are unique and all subscribers observe one total order.
// - A subscriber is added to the live set before its bootstrap read starts;
//   Stream discards live entries at or below the last bootstrapped offset.
// - A storage failure is terminal for the Hub: every subscriber is closed
//   with a StorageError and later appends are rejected.
//
// Usage:
//
//	mgr, _ := hub.NewManager(hub.ManagerConfig{Channels: set, Store: store, Registry: reg})
//	h, _ := mgr.Get("general")
//	sub, err := h.Join(ctx, "Alice")
//	go h.Stream(ctx, sub, deliver)
//	_, _ = h.Post(ctx, sub, "hello")
//	_ = h.Leave(ctx, sub)
package hub
