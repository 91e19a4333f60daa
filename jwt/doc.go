// Package jwt issues and verifies the signed access tokens that callers
// present as credentials. Verification is strict: a single algorithm, optional
// issuer and audience checks, bounded leeway and an optional key-id set for
// rotation.
package jwt
