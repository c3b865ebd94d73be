// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRole(t *testing.T) {
	var role Role
	require.NoError(t, role.UnmarshalText([]byte("controlled")))
	assert.Equal(t, RoleControlled, role)
	assert.Equal(t, RoleControlling, role.swap())
	assert.Equal(t, RoleControlled, RoleControlling.swap())

	text, err := RoleControlling.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "controlling", string(text))

	assert.ErrorIs(t, role.UnmarshalText([]byte("leader")), ErrInvalidRole)
	assert.Equal(t, ErrUnknownType.Error(), Role(0).String())
}

func TestNominationMode(t *testing.T) {
	var mode NominationMode
	require.NoError(t, mode.UnmarshalText([]byte("aggressive")))
	assert.Equal(t, NominationAggressive, mode)
	assert.Equal(t, "aggressive", mode.String())
	assert.Equal(t, "regular", NominationRegular.String())

	assert.ErrorIs(t, mode.UnmarshalText([]byte("eager")), ErrInvalidNominationMode)
}
