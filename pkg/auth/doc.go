/*
Package auth handles password hashing and verification.

Passwords are hashed with Argon2id: a fresh 16-byte random salt per
account, time cost 2, 64 MiB of memory, one lane, 32-byte output. Hash
and salt are stored as separate columns so the parameters can change
without a format migration; verification recomputes with the stored salt
and compares in constant time.

Nothing here does lookups or blocking decisions. The server owns the
policy (blocked users, the unauthenticated CREATE_USER path); this
package only answers "does this password match this hash".
*/
package auth
