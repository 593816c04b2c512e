// Package password implements argon2id credential hashing with PHC-format
// encoding. Hashes are self-describing: verification reads the cost
// parameters from the stored hash, so parameters can be raised without
// invalidating existing credentials. NeedsUpgrade reports when a stored
// hash was produced with weaker parameters than the active configuration.
package password
