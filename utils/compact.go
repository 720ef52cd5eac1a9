package utils

import "github.com/samber/lo"

// AcceptedIndices returns, in increasing order, every index in [0, n) for which accept is true.
func AcceptedIndices(n int, accept func(i int) bool) []int {
	return lo.Filter(lo.Range(n), func(i, _ int) bool {
		return accept(i)
	})
}

// Compact returns a new slice holding items[idx] for each idx in accepted, in that order.
// The input slice is not modified.
func Compact[T any](items []T, accepted []int) []T {
	return lo.Map(accepted, func(idx, _ int) T {
		return items[idx]
	})
}

// RejectedIndices returns every index in [0, n) that is missing from accepted.
func RejectedIndices(n int, accepted []int) []int {
	return lo.Without(lo.Range(n), accepted...)
}
