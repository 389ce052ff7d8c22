// Package logstore persists per-channel chat activity as append-only,
// line-oriented logs addressed by byte offset.
//
// Invariants:
// - A record is visible to every ReadFrom that starts at or before its offset
//   once Append has returned.
// - Records are never rewritten; offsets only grow.
// - One record is one line: "[YYYY-MM-DD HH:mm:ss] <actor>: <text>\n".
//
// The store does not serialize concurrent appenders itself beyond keeping its
// own bookkeeping consistent; callers own single-writer discipline per channel.
//
// Usage:
//
//	store, _ := logstore.NewFileStore("/var/lib/chatrelay", logstore.Options{Sync: true})
//	defer store.Close()
//	off, _ := store.Append(ctx, "general", logstore.NewChatRecord(time.Now(), "Alice", "hello"))
//	for entry, err := range store.ReadFrom(ctx, "general", off) {
//		_ = entry
//		_ = err
//	}
package logstore
