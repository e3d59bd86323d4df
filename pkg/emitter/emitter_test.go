package emitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishOrder(t *testing.T) {
	e := New[int]()

	var got []string
	e.Subscribe("issue", func(v int) { got = append(got, "a") })
	e.Subscribe("issue", func(v int) { got = append(got, "b") })
	e.Subscribe("comment", func(v int) { got = append(got, "c") })

	e.Publish("issue", 1)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestUnsubscribe(t *testing.T) {
	e := New[string]()

	var calls int
	unsubscribe := e.Subscribe("issue", func(string) { calls++ })
	other := e.Subscribe("issue", func(string) {})
	assert.Equal(t, 2, e.Count("issue"))

	e.Publish("issue", "x")
	unsubscribe()
	unsubscribe()
	e.Publish("issue", "y")

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, e.Count("issue"))
	other()
	assert.Equal(t, 0, e.Count("issue"))
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	e := New[int]()

	var second int
	var unsubscribe func()
	unsubscribe = e.Subscribe("x", func(int) { unsubscribe() })
	e.Subscribe("x", func(int) { second++ })

	e.Publish("x", 1)
	e.Publish("x", 2)
	assert.Equal(t, 2, second)
	assert.Equal(t, 1, e.Count("x"))
}
