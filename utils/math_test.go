package utils

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestClamp(t *testing.T) {
	test.That(t, ClampF64(-1, 0, 1), test.ShouldEqual, 0)
	test.That(t, ClampF64(0.5, 0, 1), test.ShouldEqual, 0.5)
	test.That(t, ClampF64(2, 0, 1), test.ShouldEqual, 1)
	test.That(t, ClampInt(-3, 0, 10), test.ShouldEqual, 0)
	test.That(t, ClampInt(11, 0, 10), test.ShouldEqual, 10)
	test.That(t, MaxInt(3, -2), test.ShouldEqual, 3)
	test.That(t, MinInt(3, -2), test.ShouldEqual, -2)

	test.That(t, SaturateUint8(-4), test.ShouldEqual, uint8(0))
	test.That(t, SaturateUint8(127.5), test.ShouldEqual, uint8(128))
	test.That(t, SaturateUint8(math.Inf(1)), test.ShouldEqual, uint8(255))
}
