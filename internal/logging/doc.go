// Package logging provides file-based logging with rotation for tabsense.
// The daemon and the MCP server write JSON logs under <profile>/logs/ so
// that `tabsense logs` can tail and merge them.
//
// Interactive CLI runs additionally echo to stderr; MCP server mode never
// touches stdout or stderr because stdio carries the protocol stream.
package logging
