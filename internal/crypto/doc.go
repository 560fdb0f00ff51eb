// Package crypto exposes the primitives used by the key-agreement core.
//
// Contents
//
//   - Finite-field Diffie-Hellman over a safe-prime group: parameter
//     generation, key pairs, shared-secret computation (GenerateParams,
//     GenerateKeyPair, SharedSecret)
//   - DER wire encoding of DH public keys carrying their group parameters,
//     so a responder can mirror the initiator's prime and generator
//     (MarshalPublicKey, ParsePublicKey)
//   - AES-128-CBC with PKCS#7 padding over a fixed initialization vector
//     (Encrypt, Decrypt)
//   - base64 helpers (B64, FromB64)
//
// # Notes
//
// The fixed IV and the small default group size are inherited wire-format
// decisions, configured rather than hardcoded where possible; see the
// DHBits knob on the app config. Decrypt never panics: malformed input of
// any kind comes back as a plain error.
package crypto
