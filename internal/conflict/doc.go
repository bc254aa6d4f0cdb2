// Package conflict implements three-way conflict detection and resolution
// between an origin candidate (A), a processing-client candidate (B), and the
// ledger baseline they both descend from.
//
// Detection compares change keys only (content digest plus lifecycle), so it
// is a pure function of its inputs. Resolution dispatches to a strategy only
// when both sides changed; one-sided changes and convergent edits never reach
// a strategy.
package conflict
