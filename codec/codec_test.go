// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTrip(t *testing.T) {
	type payload struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}

	c := JSON{}
	data, err := c.Encode(payload{ID: 1, Name: "x"})
	require.NoError(t, err)

	var got payload
	require.NoError(t, c.Decode(data, &got))
	assert.Equal(t, payload{ID: 1, Name: "x"}, got)
}

func TestJSONDecodeError(t *testing.T) {
	var v struct{}
	err := JSON{}.Decode([]byte("{not json"), &v)
	assert.Error(t, err)
}

func TestRawPassthrough(t *testing.T) {
	c := Raw{}

	data, err := c.Encode([]byte("bytes"))
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), data)

	data, err = c.Encode("text")
	require.NoError(t, err)
	assert.Equal(t, []byte("text"), data)

	var out []byte
	require.NoError(t, c.Decode([]byte("back"), &out))
	assert.Equal(t, []byte("back"), out)
}

func TestRawRejectsOtherTypes(t *testing.T) {
	c := Raw{}

	_, err := c.Encode(42)
	assert.ErrorIs(t, err, ErrNotBytes)

	var s string
	assert.ErrorIs(t, c.Decode([]byte("x"), &s), ErrNotBytes)
}
