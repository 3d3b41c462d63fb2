// Package record defines the membership-request record tracked in the external
// table, its status lifecycle, and identity normalization.
//
// The store may return the same identity as a JSON number in one response and
// as a string in the next, so every comparison goes through NormalizeIdentity.
// A record whose identity does not normalize to a positive integer is invalid:
// it is skipped by every pipeline, never errored.
//
// Status transitions are declared once, in the transition table in
// transition.go. Callers ask Next for the target status instead of hard-coding
// status strings.
package record
