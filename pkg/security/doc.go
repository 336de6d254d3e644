/*
Package security provides cryptographic services for cargohold.

It covers three concerns:

  - SecretsManager: AES-256-GCM encryption of webhook HMAC signing
    secrets at rest, so a database dump alone doesn't leak them.
  - Password hashing: bcrypt for new accounts, with transparent
    verify-and-upgrade support for the legacy salted-SHA-256 scheme
    accounts may have been created under before the bcrypt migration.
  - CookieSigner and token helpers: HMAC-signed session cookies and
    sha256-hashed API tokens, so neither can be looked up or forged
    without the server's key.
*/
package security
