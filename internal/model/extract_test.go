package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{
			name:     "go fence",
			response: "```go\npackage util\n\nfunc Reverse() {}\n```",
			want:     "package util\n\nfunc Reverse() {}\n",
		},
		{
			name:     "fence inside prose",
			response: "Here you go:\n\n```python\nprint('hi')\n```\n\nLet me know!",
			want:     "print('hi')\n",
		},
		{
			name:     "first of several fences",
			response: "```\nfirst\n```\n```\nsecond\n```",
			want:     "first\n",
		},
		{
			name:     "patch keeps inner layout",
			response: "```diff\n--- a/x.go\n+++ b/x.go\n@@ -1 +1 @@\n-a\n+b\n```",
			want:     "--- a/x.go\n+++ b/x.go\n@@ -1 +1 @@\n-a\n+b\n",
		},
		{
			name:     "no fence",
			response: "  package main  \n",
			want:     "package main\n",
		},
		{
			name:     "empty",
			response: "   ",
			want:     "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCode(tt.response))
		})
	}
}
