// Package quantics is the client for the Quantics statistics service.
//
// Invariants:
// - One login session is shared process-wide; concurrent callers never issue redundant logins.
// - A rejected session triggers exactly one refresh-and-retry per statistic call.
// - Remote failures come back as a Result with Success false, never as a raised error.
//
// Usage:
//
//	creds := quantics.NewCredentialCache(cfg)
//	client := quantics.NewClient(cfg, creds)
//	result, _ := client.Execute(ctx, descriptor, request)
//	_ = result
package quantics
