// Package migrations holds the goose migrations for the shop store.
// Each migration inspects live schema state before acting, so the set is
// safe to apply on every process start and safe to resume after a partial
// failure. Nothing here ever drops data: the only destructive-looking step
// renames the legacy transactions table to a timestamped backup.
package migrations

import "embed"

//go:embed *.sql
var Embed embed.FS
