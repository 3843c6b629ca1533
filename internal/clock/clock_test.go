// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualFiresInDeadlineOrder(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var order []string
	m.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	m.AfterFunc(time.Second, func() { order = append(order, "a") })
	m.AfterFunc(5*time.Second, func() { order = append(order, "c") })

	m.Advance(3 * time.Second)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 1, m.Pending())
	assert.Equal(t, time.Unix(3, 0), m.Now())

	m.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Zero(t, m.Pending())
}

func TestManualChainedTimers(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var at []time.Time
	m.AfterFunc(time.Second, func() {
		at = append(at, m.Now())
		m.AfterFunc(time.Second, func() { at = append(at, m.Now()) })
	})

	m.Advance(5 * time.Second)
	assert.Equal(t, []time.Time{time.Unix(1, 0), time.Unix(2, 0)}, at)
}

func TestManualStop(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	fired := false
	tm := m.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	m.Advance(time.Minute)
	assert.False(t, fired)
}

func TestManualZeroDelay(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	n := 0
	m.AfterFunc(0, func() { n++ })
	m.Advance(0)
	assert.Equal(t, 1, n)
}
