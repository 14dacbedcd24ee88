package kafka

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, splitBrokers(" a:9092, ,b:9092 "))
	assert.Nil(t, splitBrokers(""))
}

func TestLocalCounter(t *testing.T) {
	ctx := context.Background()
	c := &localCounter{counts: make(map[string]int64)}
	for i := int64(1); i <= 3; i++ {
		n, err := c.Incr(ctx, "k")
		assert.NoError(t, err)
		assert.Equal(t, i, n)
	}
	c.Reset(ctx, "k")
	n, _ := c.Incr(ctx, "k")
	assert.EqualValues(t, 1, n)
}
