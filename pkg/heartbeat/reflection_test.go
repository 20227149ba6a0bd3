package heartbeat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReflection(t *testing.T) {
	content, priority := parseReflection("queue quiet, user away | 2")
	assert.Equal(t, "queue quiet, user away", content)
	assert.Equal(t, 2, priority)

	// Missing priority defaults to 1.
	content, priority = parseReflection("nothing new since last pass")
	assert.Equal(t, "nothing new since last pass", content)
	assert.Equal(t, 1, priority)

	// Out-of-range priorities clamp.
	_, priority = parseReflection("urgent | 9")
	assert.Equal(t, 5, priority)

	_, priority = parseReflection("noise | -3")
	assert.Equal(t, 0, priority)

	// Non-numeric tail is part of the content.
	content, priority = parseReflection("a | b thought")
	assert.Equal(t, "a | b thought", content)
	assert.Equal(t, 1, priority)
}
