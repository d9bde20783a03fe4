package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUser_SetPassword(t *testing.T) {
	u := &User{}
	err := u.SetPassword("password123")
	assert.NoError(t, err)
	assert.NotEmpty(t, u.PasswordHash)
	assert.NotEqual(t, "password123", u.PasswordHash)
}

func TestUser_CheckPassword(t *testing.T) {
	u := &User{}
	_ = u.SetPassword("password123")

	assert.True(t, u.CheckPassword("password123"))
	assert.False(t, u.CheckPassword("wrongpassword"))
}

func TestUser_IsLocked(t *testing.T) {
	now := time.Now()
	u := &User{}
	assert.False(t, u.IsLocked(now))

	until := now.Add(15 * time.Minute)
	u.LockedUntil = &until
	assert.True(t, u.IsLocked(now))
	assert.False(t, u.IsLocked(until.Add(time.Second)))
}
