// Package types provides common type aliases and utilities.
package types

import (
	"github.com/shopspring/decimal"
)

// Quantity is an on-hand quantity in whole stock units.
//
// The balance cache and the ledger both store whole units; fractional
// stock is out of scope for this engine, so a plain integer keeps
// arithmetic exact and comparisons trivial.
type Quantity int64

func (q Quantity) IsZero() bool     { return q == 0 }
func (q Quantity) IsPositive() bool { return q > 0 }
func (q Quantity) IsNegative() bool { return q < 0 }
func (q Quantity) Neg() Quantity    { return -q }

func (q Quantity) Abs() Quantity {
	if q < 0 {
		return -q
	}
	return q
}

// Int64 returns the raw unit count.
func (q Quantity) Int64() int64 { return int64(q) }

// Money represents a monetary value with full precision.
// Uses decimal.Decimal to avoid floating-point errors.
type Money = decimal.Decimal

// NewMoneyFromString creates a Money value from a string.
// This is the preferred method for monetary values.
func NewMoneyFromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustMoney creates a Money value from a string, panics on error.
// Use only for constants and tests.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
