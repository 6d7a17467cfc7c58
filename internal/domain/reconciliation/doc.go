// Package reconciliation contains the Reconciliation bounded context.
// It matches internal deliveries against rows of an external invoice ledger
// and remembers the outcome of each verification.
//
// Key concepts:
//   - Delivery: internal delivery record carrying a BL number (referenced, not owned)
//   - StoreLedgerConfig: per-store ledger endpoint, table and column mapping
//   - LedgerRow: typed view of an opaque ledger record through a column mapping
//   - MatchingStrategy: one way of finding a delivery's invoice row
//   - VerificationEntry: cached verification outcome, one per delivery
//
// Design Pattern: Ports & Adapters
//   - Ports (LedgerClient, repositories) are defined here in the domain layer
//   - Adapters (HTTP ledger client, GORM repositories) are in the infrastructure layer
package reconciliation
