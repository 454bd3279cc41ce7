// Package prepare stages the freshly built input tree into the output
// directory: install files on one side, debug symbols on the other, with
// configurable exclusions. Every later stage reads the staged tree, never
// the raw build output.
package prepare
