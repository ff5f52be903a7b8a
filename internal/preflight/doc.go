// Package preflight provides readiness checks for the filesystem paths,
// dataset files and registry that vidtrain depends on.
//
// These checks run in two contexts:
//   - The train command calls RunAll before building a run. If any check
//     fails, training halts before hours are spent on a doomed run.
//   - The CLI "vidtrain status" command shows every Result, including the
//     informational device and registry rows.
package preflight
