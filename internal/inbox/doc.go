// Package inbox reconciles batch files dropped into a directory.
//
// Clients that cannot reach the HTTP API, or operators replaying an export,
// place files of the form
//
//	{"userId": "user-1", "expenses": [{"operation": "CREATE", ...}]}
//
// in the inbox. After the file has been quiet for the debounce interval the
// daemon reconciles it exactly as POST /sync/expenses would, then:
//
//   - writes <name>.result.json with the per-operation results and summary
//   - renames <name>.json to <name>.done
//
// A file that is not valid JSON or names no user gets a result file with an
// error and is renamed to <name>.failed. Result files and dotfiles are never
// treated as batches.
package inbox
