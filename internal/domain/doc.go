// Package domain defines the core types for the listing-live event core.
//
// Types in this package are value objects with no database, transport or
// HTTP dependencies. They are the shared language between the event source
// adapter, the matcher, the presence aggregator and the dispatcher.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON tags are allowed (they're metadata, not behavior)
//   - Validation and decoding are allowed (they're pure functions on the type)
//   - Constants and enums belong here
package domain
