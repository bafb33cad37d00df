// Package ir provides the value representation the data layer hashes and
// filters on.
//
// IRValue is a sealed set of JSON value kinds. It is used in two places:
//   - request fingerprints: bodies are parsed into IRValues and re-encoded as
//     canonical JSON before hashing, so semantically equal bodies hash equally
//   - filter predicates: literal values in queryir predicates are IRValues,
//     which keeps filter construction typed
//
// ir imports nothing internal; every other package may import it.
package ir
