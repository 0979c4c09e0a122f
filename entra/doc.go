// Package entra provides a federated oauth.Adapter backed by Microsoft
// Entra ID. Authorization attempts are redirected to the tenant's
// /authorize endpoint with a PKCE challenge; the callback exchanges the
// returned code, verifies the ID token against the tenant's JWKS, and
// mints a local authorization code for the original client.
//
// The adapter keeps the local authorization server in charge of all
// token issuance: Entra only answers the question of who the user is.
package entra
