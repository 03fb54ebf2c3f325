package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelGate(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(nil)
		SetLevel("info")
	})

	SetLevel("warn")
	Infof("被过滤的行 %d", 1)
	Warnf("放行的行 %d", 2)
	out := buf.String()
	assert.NotContains(t, out, "被过滤的行")
	assert.Contains(t, out, "放行的行 2")

	// 未知级别回落到 info
	SetLevel("没见过的级别")
	Infof("回落后的 info 行")
	assert.Contains(t, buf.String(), "回落后的 info 行")
}
