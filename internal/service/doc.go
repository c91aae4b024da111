package service

// Package service drives one audit run end to end.
//
// The pipeline is a fixed sequence of fallible steps:
//
//   materialize            discover/generate          audit
//       |                        |                      |
//   workdir archives --------->  | Cargo.lock search    |
//   or --srcdir copy            (vendor dirs skipped)   |
//       |                        | else Cargo.toml +    |
//       |                        | cargo generate-      |
//       |                        | lockfile, re-scan    |
//       |                        |--- lockfiles ------->| cargo-audit per file
//       |                        |                      | JSON report
//       |<--------------------- Outcome ----------------|
//
// Invariants:
//   - The temporary source tree never outlives Scan, success or failure.
//   - Lockfiles are audited sequentially, in discovery order.
//   - Every step failure aborts the run, there is no degraded success.
//   - A vulnerability finding is not a step failure: it is reported in
//     the Outcome and mapped to the failing exit status by the caller.
