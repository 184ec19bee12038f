// Package store holds the in-memory message sequences of open
// conversations.
//
// # Ordering
//
// Messages are ordered by creation time ascending; equal timestamps keep
// their insertion order. The insertion rank of a key is retained across a
// delete, so a restored message lands back at its original position.
//
// # Identity
//
// A message is keyed by its server id once assigned, and by a temporary
// key before that. Appending a key that is already present is a no-op:
// the same message can legitimately arrive twice, once as a live push
// and once inside a REST acknowledgement or snapshot.
//
// # Seeding
//
// Seed replaces a conversation wholesale from an authoritative snapshot.
// Locally pending entries survive unless the snapshot semantically
// contains them (same sender and body within a short window), in which
// case the authoritative copy wins.
//
// Each conversation serializes its mutations on its own mutex;
// different conversations proceed independently.
package store
