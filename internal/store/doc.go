// Package store implements the durable preference store backing the key
// store. Each record is JSON, sealed with a passphrase-derived key (scrypt +
// ChaCha20-Poly1305) and written to its own file under the config directory.
package store
