/*
Package security loads TLS material for the client I/O listener.

The server speaks plaintext unless both a certificate and a key path are
configured; LoadServerTLSConfig returns a nil config for the all-empty
case so the caller can pass the result straight to the listener either
way. Setting only one of the two paths is a configuration error, not a
silent fallback to plaintext.

TLS 1.2 is the floor. Certificate provisioning and rotation are external
concerns; CertNeedsRenewal exists so an operator surface can warn when
less than thirty days remain.
*/
package security
