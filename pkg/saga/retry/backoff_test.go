// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff_GrowthWithoutJitter(t *testing.T) {
	p := NewExponentialBackoff(100*time.Millisecond, 0, 2.0, 0.0)

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
	assert.Equal(t, 800*time.Millisecond, p.Delay(4))
}

func TestExponentialBackoff_CapsAtMaxDelay(t *testing.T) {
	p := NewExponentialBackoff(100*time.Millisecond, 300*time.Millisecond, 2.0, 0.0)

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 300*time.Millisecond, p.Delay(3))
	assert.Equal(t, 300*time.Millisecond, p.Delay(10))
}

func TestExponentialBackoff_JitterStaysInBounds(t *testing.T) {
	p := NewExponentialBackoff(100*time.Millisecond, 0, 2.0, 0.5)

	for i := 0; i < 100; i++ {
		d := p.Delay(2) // base 200ms, jittered half
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	}
}

func TestExponentialBackoff_NonPositiveAttempt(t *testing.T) {
	p := NewExponentialBackoff(100*time.Millisecond, 0, 2.0, 0.0)
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, time.Duration(0), p.Delay(-3))
}

func TestNewExponentialBackoff_DefaultsOutOfRangeParameters(t *testing.T) {
	p := NewExponentialBackoff(-1, 0, 0.5, 2.0)
	assert.Equal(t, 100*time.Millisecond, p.InitialDelay)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.Equal(t, 1.0, p.Jitter)
}

func TestFixedBackoff(t *testing.T) {
	p := NewFixedBackoff(250*time.Millisecond, 0.0)
	assert.Equal(t, 250*time.Millisecond, p.Delay(1))
	assert.Equal(t, 250*time.Millisecond, p.Delay(7))
	assert.Equal(t, time.Duration(0), p.Delay(0))

	jittered := NewFixedBackoff(200*time.Millisecond, 1.0)
	for i := 0; i < 100; i++ {
		d := jittered.Delay(1)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	}
}
