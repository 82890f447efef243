// Package autoload registers all built-in model providers through their
// init() functions. Import it for side effects only.
package autoload

import (
	_ "vocalis/pkg/llm/gemini"
	_ "vocalis/pkg/llm/ollama"
	_ "vocalis/pkg/llm/openaichat"
)
