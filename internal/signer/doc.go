// Package signer produces and verifies Ed25519 signatures over the
// canonical manifest bytes. The signature gates whether end-user machines
// accept an update, so verification treats every malformed input as a
// failed check rather than an error.
package signer
