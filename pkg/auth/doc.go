// Package auth authenticates HTTP callers and scopes them to a tenant.
//
// Authenticators vote in a chain: Yes ends the chain with an identity, No
// rejects the request, and Abstain passes to the next authenticator. When
// all abstain the chain's default decision applies.
//
// The middleware places the identity and its tenant into the request
// context. The tenant selects the vector collections a caller reads and
// writes, so tenants never see each other's datasets.
package auth
