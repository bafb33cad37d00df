// Package queryir defines the typed filter predicates accepted by repository
// listing.
//
// Predicate is a sealed interface using the marker method pattern: only the
// types in this package implement it, so backend compilers can switch over
// every variant exhaustively. Values are ir.IRValue literals, never SQL text.
//
//	[]Predicate → Validate(allowed columns) → querysql.CompileFilters → WHERE fragment
//
// Supported variants:
//   - Equals / NotEquals: field = value, field <> value
//   - Compare: field < <= > >= value
//   - In: field IN (values...)
//   - IsNull / NotNull
//   - HasPrefix: string prefix match
//   - And: conjunction (empty = always true)
//
// OR and subqueries are deliberately absent; the tenant predicate is always
// ANDed in by the repository and no user predicate can widen it.
package queryir
