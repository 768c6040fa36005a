// Package password hashes and verifies account passwords.
//
// New hashes are argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Hashes imported from the previous bcrypt-based backend still verify;
// [Hasher.NeedsUpgrade] reports them so callers rehash after the next
// successful login. Password policy beyond length bounds belongs to the
// caller, and plaintexts are never stored or logged here.
package password
