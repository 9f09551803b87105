// Package core provides the business logic for template row reservation,
// saved files, multi-file merges and attendance ingestion.
//
// This package contains all domain logic independent of any transport. It
// can be used by web handlers, CLI tools, or tests without modification.
//
// # Architecture
//
// The package is organized around several key concepts:
//
//   - Format: Administrator-defined columns with type, required, editable,
//     unique and dropdown rules. [ValidateRow] normalizes rows against it.
//   - Store: The single logical store shared by every instance. The
//     [ReservationStore] claim is the only serialization point for picks.
//   - Service: The main entry point for all operations.
//   - Merge: [Merge] is a pure, deterministic pass; [Service.MergeFiles]
//     fetches sources and commits the product atomically.
//
// # Reservations and Projections
//
// A saved file with a Format and picked row indices is a live projection of
// those template rows. Saving it reserves rows it newly picks and releases
// rows it dropped; an administrator release or reassignment removes the row
// from the former holder's projections.
//
//	res, err := svc.Pick(ctx, actor, "roster", 4)
//	if res.Status == core.PickConflict {
//	    // row 4 belongs to res.HolderLabel
//	}
//
// # Merging
//
// Inputs are concatenated in selection order. For each unique column the
// first occurrence wins; every later repeat is reported with both row
// references. Any duplicate, dropdown or field error refuses the merge and
// nothing is written.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - VAL000-VAL010: Validation errors
//   - MRG001-MRG003: Merge refusals
//   - RSV001: Reservation conflicts
//   - NF001, AUTH001-AUTH003: Lookup and access errors
//   - DB001-DB007: Database errors
//   - OPS001-OPS003: Busy, cancelled, timed out
package core
