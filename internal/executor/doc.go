// Package executor implements a GraphQL execution engine with incremental
// delivery: field collection with @skip/@include/@defer/@stream semantics,
// spec-compliant value completion with Non-Null null propagation, and an
// ordered patch sequence for deferred fragments and streamed list items.
//
// # Execution Model
//
// A request executes in two phases. The initial phase resolves the operation's
// selection set breadth-first within each object: resolvers run in declaration
// order, plain values complete inline, and Future values settle concurrently
// and join before the enclosing object is assembled. Response key order always
// follows the query text regardless of settlement order.
//
// Selections behind an active @defer are split out of their enclosing
// selection set at collection time and executed concurrently as payload units.
// A list field with an active @stream completes its first initialCount items
// inline and hands the remainder to a stream tail delivering one patch per
// item. When no @defer or @stream is active the request produces a single
// complete result.
//
// # Incremental Delivery
//
// The publisher sequences payload units into patches with two invariants:
//
//   - A unit's patch is emitted only after its parent's payload has been
//     delivered, so a consumer applying patches in order always finds the
//     target path present.
//   - Every patch carries hasNext reporting whether more patches follow; the
//     final patch carries hasNext false. Stream tails look one item ahead so
//     the last item's patch closes the sequence without an empty trailer.
//
// Non-Null violations propagate to the nearest nullable ancestor; exactly one
// error is recorded, at the field where the violation occurred. Payload units
// addressed into a subtree that became null this way are dropped before
// emission.
//
// The consumer pulls patches from a PatchStream and may abandon the request
// with Stop, which cancels outstanding work and closes every live source
// stream before returning.
//
// # Runtime Contract
//
// The Runtime interface abstracts host integration: ResolveField produces raw
// field values (plain, Future, or Stream), ResolveType names concrete types
// for abstract values, IsTypeOf validates object membership, and SerializeLeaf
// produces JSON-safe scalar and enum values. See runtime.go for the detailed
// method contracts.
package executor
