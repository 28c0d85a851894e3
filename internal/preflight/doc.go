// Package preflight provides readiness checks for the binaries and
// filesystem paths montage depends on.
//
// These checks run in two contexts:
//   - "montage compose" calls RunAll before the batch starts. If any check
//     fails, the run stops before a single clip is selected.
//   - "montage doctor" renders every check, including optional ones, as a
//     status table.
package preflight
