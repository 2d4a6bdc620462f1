// Package auth issues and verifies bearer tokens for the API, checks
// passwords, and carries the authenticated principal through the request
// context.
//
// Tokens are HS256 JWTs carrying the user id in sub and the role in a
// private claim. [Identify] never rejects anonymous requests; routes that
// need a user mount [RequireUser] or [RequireRole] after it.
package auth
