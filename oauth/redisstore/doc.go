// Package redisstore provides a Redis-backed oauth.TokenStore. Records
// are stored as JSON values under prefixed keys with native Redis TTLs,
// so expiry needs no sweeping and state survives process restarts.
package redisstore
