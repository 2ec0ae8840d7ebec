// Package auth resolves requests to principals and issues credentials.
//
// # Authenticators
//
// Two authenticators run in order for every request. LocalAuthenticator
// verifies HS256 tokens minted by JWTManager. ExternalAuthenticator handles
// tokens minted by the remote identity provider: it looks the token up in the
// session table, refreshes it in-band when expired, and provisions the user
// and session on first sight.
//
//	chain := auth.NewChain(metrics,
//		auth.NewLocalAuthenticator(jwtManager, users),
//		auth.NewExternalAuthenticator(users, sessions, idp, opts),
//	)
//	res, err := chain.Authenticate(ctx, auth.Credentials{Token: token})
//
// A token is taken from the Authorization header first and from the access
// cookie otherwise.
//
// # Cookies
//
// Successful logins deliver the token pair as httpOnly cookies. The access
// cookie is scoped to /api/ and the refresh cookie to /api/auth/.
//
// # Force logout
//
// AccessControl updates role, flags and permission maps and advances the
// user's permission watermark so clients holding an older value end their
// session.
package auth
