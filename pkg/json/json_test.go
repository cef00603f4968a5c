package json

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	Name string `json:"name"`
	N    int    `json:"n"`
}

func TestMarshalLines(t *testing.T) {
	items := []item{{"a<b", 1}, {"c", 2}}
	data, err := MarshalLines(len(items), func(i int) interface{} { return items[i] })
	require.NoError(t, err)
	assert.Equal(t, "{\"name\":\"a<b\",\"n\":1}\n{\"name\":\"c\",\"n\":2}\n", string(data))

	empty, err := MarshalLines(0, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMarshalLinesReportsLine(t *testing.T) {
	_, err := MarshalLines(2, func(i int) interface{} {
		if i == 1 {
			return make(chan int)
		}
		return item{}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestScanLines(t *testing.T) {
	var got []item
	var lines []int
	err := ScanLines([]byte("{\"name\":\"a\",\"n\":1}\n\n  \n{\"name\":\"b\",\"n\":2}"), func(n int, line []byte) error {
		var it item
		if err := Unmarshal(line, &it); err != nil {
			return err
		}
		got = append(got, it)
		lines = append(lines, n)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []item{{"a", 1}, {"b", 2}}, got)
	assert.Equal(t, []int{1, 4}, lines)

	err = ScanLines([]byte("x\ny\n"), func(n int, _ []byte) error {
		return fmt.Errorf("stop at %d", n)
	})
	assert.EqualError(t, err, "stop at 1")
}

func TestBufferPoolDropsLargeBuffers(t *testing.T) {
	buf := GetBuffer()
	buf.WriteString(strings.Repeat("x", maxPooledBuffer+1))
	PutBuffer(buf)
	assert.Equal(t, 0, GetBuffer().Len())
}
