// Package rate throttles repeated failures with fixed-window counters in
// Redis: INCR, then EXPIRE on the first hit of a window.
//
// Keys are <prefix><scope>:s:<subject> and, with per-address counting,
// <prefix><scope>:a:<addr>.
package rate
