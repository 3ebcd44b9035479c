// Package core provides the business logic for importing CSV files into
// database tables.
//
// This package contains the import pipeline independent of any transport.
// The web server, the csvimport command and tests all drive it through
// [Service].
//
// # Pipeline
//
//  1. [OpenRowSource] decompresses and decodes the input and tokenizes it
//     according to a [Dialect].
//  2. [DeriveColumns] turns the first row into column names, or generates
//     field1..fieldN when the file has no header.
//  3. [ResolveTarget] decides between creating the table and appending to an
//     existing one with the same column count.
//  4. [Importer] applies the rows inside a savepoint so that the import
//     either commits completely or leaves the store untouched.
//
// # Stores
//
// The pipeline talks to the database through the [Store] interface. The
// internal/store packages provide PostgreSQL and SQLite implementations.
//
// # Progress and Cancellation
//
// A [ProgressSink] is told how far the import has come and returns false to
// stop it. Cancellation is only observed between rows and between buffered
// chunks of input; a statement already sent to the store always completes
// and is then reverted with the rest. [Tracker] adapts this to a polling
// model for the HTTP API.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each category has a code for support reference:
//
//   - IMP001-IMP008: Import errors (table name, dialect, conflicts, cancellation)
//   - SAV, TBL, INS, DB: Store errors
//   - FILE001-FILE006: File errors (size, format, encoding)
//   - RATE001: Rate limiting
package core
