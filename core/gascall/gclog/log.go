// Package gclog provides the logger used by the gascall components.
package gclog

import (
	"github.com/ethereum/go-ethereum/log"
)

// New creates a new gascall logger that inherits the root logger's format
// (JSON, Terminal, or Logfmt as configured via the --log.format CLI flag).
// Every record carries a "gascall"=true attribute so the controller's output
// can be filtered out of the node's log stream.
func New() log.Logger {
	return log.New("gascall", true)
}

// NewWith creates a new gascall logger with additional context attributes.
func NewWith(ctx ...any) log.Logger {
	return New().With(ctx...)
}
