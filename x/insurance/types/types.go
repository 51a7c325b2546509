// Package types defines the insurance fund's accounting record (component
// K), grounded on the teacher's clearinghouse insurance-fund fields
// referenced from liquidation.go (the penalty split) and on spec 4.9's
// balance/totalDeposits/totalPayouts invariant.
package types

import "github.com/openalpha/simulacrum/pkg/money"

// Fund is a single reserve pool's accounting state. Balance always equals
// totalDeposits - totalPayouts, and never goes negative.
type Fund struct {
	Balance       money.Tinybar
	TotalDeposits money.Tinybar
	TotalPayouts  money.Tinybar
}
