// internal/model/prompt.go
package model

import (
	"fmt"
	"strings"
)

// Style selects how a raw prompt is framed before it reaches the backend.
type Style int

const (
	StyleInstruction Style = iota
	StyleCode
)

func (s Style) String() string {
	if s == StyleCode {
		return "code"
	}
	return "instruction"
}

const codeSystemPrompt = "You are a helpful coding assistant. Write clean, efficient, and well-documented code."

// Format wraps prompt in the template for style. Surrounding whitespace in
// prompt is dropped.
func Format(style Style, prompt string) string {
	prompt = strings.TrimSpace(prompt)
	switch style {
	case StyleCode:
		return fmt.Sprintf("### System: %s\n\n### User: %s\n\n### Assistant:", codeSystemPrompt, prompt)
	default:
		return fmt.Sprintf("### Instruction: %s\n\n### Response:", prompt)
	}
}

// CleanResponse strips an echoed template tail some backends return.
func CleanResponse(style Style, text string) string {
	marker := "### Response:"
	if style == StyleCode {
		marker = "### Assistant:"
	}
	if i := strings.LastIndex(text, marker); i >= 0 {
		text = text[i+len(marker):]
	}
	return strings.TrimSpace(text)
}
