// Package ratelimit enforces named request budgets keyed by client IP.
//
// Each route group is bound to a Policy (auth, api, trading, admin). The
// Limiter resolves the client address from httpmw, asks a Store whether the
// request fits the policy, and answers 429 with a Retry-After hint when it
// does not.
//
// Two stores are provided:
//   - MemoryStore: fixed windows per key inside one process. Idle keys are
//     evicted in the background and the number of tracked keys can be capped.
//   - RedisStore: fixed windows in redis, shared by every server instance.
//
// A store error fails closed with 503. Neither store protects against
// distributed floods across many addresses; that belongs upstream.
package ratelimit
