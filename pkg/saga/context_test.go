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

package saga

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionContext_SetPreservesInsertionOrder(t *testing.T) {
	ec := NewExecutionContext()

	require.NoError(t, ec.Set("reserve_inventory", map[string]string{"reservation_id": "r-1"}))
	require.NoError(t, ec.Set("charge_payment", map[string]string{"charge_id": "c-1"}))
	require.NoError(t, ec.Set("confirm_order", map[string]string{"order_id": "o-1"}))

	assert.Equal(t, []string{"reserve_inventory", "charge_payment", "confirm_order"}, ec.Keys())
	assert.Equal(t, 3, ec.Len())
}

func TestExecutionContext_SetIsWriteOnce(t *testing.T) {
	ec := NewExecutionContext()

	require.NoError(t, ec.Set("step", map[string]int{"value": 1}))
	require.NoError(t, ec.Set("step", map[string]int{"value": 2}))

	var got map[string]int
	require.NoError(t, ec.Decode("step", &got))
	assert.Equal(t, 1, got["value"], "second Set must not overwrite the recorded output")
	assert.Equal(t, 1, ec.Len())
}

func TestExecutionContext_SetRejectsEmptyName(t *testing.T) {
	ec := NewExecutionContext()
	assert.Error(t, ec.Set("", "value"))
}

func TestExecutionContext_DecodeMissingEntry(t *testing.T) {
	ec := NewExecutionContext()
	var out string
	err := ec.Decode("absent", &out)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "absent")
}

func TestExecutionContext_JSONRoundTripKeepsOrder(t *testing.T) {
	ec := NewExecutionContext()
	require.NoError(t, ec.Set("zeta", 1))
	require.NoError(t, ec.Set("alpha", 2))
	require.NoError(t, ec.Set("mid", map[string]any{"nested": []int{1, 2, 3}}))

	data, err := json.Marshal(ec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"zeta":1,"alpha":2,"mid":{"nested":[1,2,3]}}`, string(data))

	restored := NewExecutionContext()
	require.NoError(t, json.Unmarshal(data, restored))
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, restored.Keys())

	again, err := json.Marshal(restored)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestExecutionContext_UnmarshalRejectsNonObject(t *testing.T) {
	ec := NewExecutionContext()
	assert.Error(t, json.Unmarshal([]byte(`[1,2,3]`), ec))
}

func TestExecutionContext_CloneIsIndependent(t *testing.T) {
	ec := NewExecutionContext()
	require.NoError(t, ec.Set("a", 1))

	cp := ec.Clone()
	require.NoError(t, cp.Set("b", 2))

	assert.False(t, ec.Has("b"))
	assert.True(t, cp.Has("a"))
	assert.True(t, cp.Has("b"))
}

func TestNewExecutionContextFromMap_SortsKeys(t *testing.T) {
	ec, err := NewExecutionContextFromMap(map[string]any{
		"charlie": 3,
		"alpha":   1,
		"bravo":   2,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, ec.Keys())
}

func TestExecutionContext_SetRawMessagePassthrough(t *testing.T) {
	ec := NewExecutionContext()
	raw := json.RawMessage(`{"charge_id":"c-9"}`)
	require.NoError(t, ec.Set("charge_payment", raw))

	got, ok := ec.Get("charge_payment")
	require.True(t, ok)
	assert.Equal(t, string(raw), string(got))
}
