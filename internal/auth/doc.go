// Package auth implements passwordless sign-in for larder.
//
// # Ceremonies
//
// Service drives the two WebAuthn ceremonies. Each Start call asks the
// WebAuthn collaborator for browser options and stores the ceremony state
// under a random ephemeral id; the matching Finish call consumes that id
// exactly once before anything else happens, so a failed or replayed
// finish can never be retried with the same id.
//
//	start, err := svc.StartRegistration(ctx, "Ada")
//	reg, err := svc.FinishRegistration(ctx, start.EphemeralID, "Ada", body)
//
// Registration creates the user, their first passkey, a default inventory
// document with an access grant naming them owner, and a session. Login uses
// discoverable credentials, so no user name is needed, and succeeds only if
// the authenticator's signature counter strictly advanced.
//
// # Sessions
//
// Middleware resolves the session cookie on every request, slides its
// expiry, and attaches an Identity to the request context.
//
// # Sync tickets
//
// TicketIssuer mints short-lived HS256 JWTs that let a client open the
// document sync channel without a cookie.
package auth
