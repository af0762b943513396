// Package envelope defines the uniform response wrapper exchanged between the
// API and goAuthClient.
//
// # Wire format
//
//	{
//	  "status": "ok" | "error",
//	  "code":   <int>,
//	  "time":   <RFC 3339 timestamp>,
//	  "data":   <payload>,   // present iff status == "ok"
//	  "error":  <string>     // present iff status == "error"
//	}
//
// # Architecture boundaries
//
// This package owns envelope encoding and decoding for both sides of the wire. The
// client transport decodes with [Decode]; the reference server writes with
// [WriteOK] and [WriteError].
//
// # What this package must NOT do
//
//   - Interpret payload semantics (tokens, users) beyond raw JSON.
//   - Import goAuthClient or any internal package.
package envelope
