// Package autoload registers all built-in channel factories through
// their init() functions. Import it for side effects only.
package autoload

import (
	_ "vocalis/pkg/channels/telegram"
	_ "vocalis/pkg/channels/web"
)
