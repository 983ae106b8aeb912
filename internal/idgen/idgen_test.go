package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("x_")
	assert.True(t, strings.HasPrefix(id, "x_"))
	assert.Len(t, id, 2+24)
}

func TestAssessmentIDsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := Assessment()
		assert.True(t, strings.HasPrefix(id, AssessmentPrefix))
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.True(t, strings.HasPrefix(Request(), RequestPrefix))
}
