// Package policy evaluates operator supplied Rego policies against finalized
// DLP results.
//
// The decision produced here is advisory: it is reported beside the analyzer's
// own allow/block verdict and never replaces it. Operators use it to attach
// routing hints such as "redact" or to express tenant specific escalation rules
// without touching the scoring model.
package policy
