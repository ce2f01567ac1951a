package core

import (
	"os"
	"os/user"
	"strings"

	"github.com/google/uuid"

	"pkt.systems/tabterm/schema"
)

// NewTabID returns a fresh "Tab-" id.
func NewTabID() schema.TabID {
	return schema.TabID("Tab-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		name := u.Username
		if i := strings.LastIndex(name, `\`); i >= 0 {
			name = name[i+1:]
		}
		return name
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return os.Getenv("USERNAME")
}
