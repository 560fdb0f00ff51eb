// Package domain holds the core types shared across the key-agreement
// subsystem: channel and user identifiers, symmetric key material, the relay
// event envelope, and the interfaces of the external collaborators (event
// stream, preference store) that the subsystem talks to.
package domain
