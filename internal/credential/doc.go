// Package credential hashes and verifies lock passwords.
//
// # Formats
//
// New hashes are bcrypt. Verify also accepts the salted formats written by
// the legacy bot so that imported locks keep working:
//
//   - sha256$<salt>$<hex>: HMAC-SHA256 of the password keyed by the salt
//   - pbkdf2:<digest>[:<iterations>]$<salt>$<hex>: PBKDF2-HMAC
//
// Digests are compared in constant time. A malformed or unknown hash never
// verifies.
package credential
