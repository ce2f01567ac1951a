package schema

import (
	"fmt"
	"strings"
)

// UngroupedName labels favorites without a group.
const UngroupedName = "Ungrouped"

// Favorite is a saved remote connection.
type Favorite struct {
	DisplayName string `json:"displayName"`
	Hostname    string `json:"hostname"`
	Username    string `json:"username"`
	Password    string `json:"password,omitempty"`
	KeyPath     string `json:"keyPath,omitempty"`
	Port        int    `json:"port,omitempty"`
	Group       string `json:"group,omitempty"`
}

// Validate reports whether the favorite can be connected to.
func (f Favorite) Validate() error {
	if strings.TrimSpace(f.Hostname) == "" {
		return fmt.Errorf("%w: hostname is required", ErrInvalidFavorite)
	}
	if f.Port < 0 || f.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidFavorite, f.Port)
	}
	return nil
}

// Label returns the display name, falling back to the connection target.
func (f Favorite) Label() string {
	if name := strings.TrimSpace(f.DisplayName); name != "" {
		return name
	}
	return ConnectOptions{Host: f.Hostname, Username: f.Username}.Target()
}

// ConnectOptions resolves the favorite into connect options. The persisted
// key preference supplies a key only when the favorite has none.
func (f Favorite) ConnectOptions(keys KeySettings) ConnectOptions {
	opts := ConnectOptions{
		Host:     strings.TrimSpace(f.Hostname),
		Username: strings.TrimSpace(f.Username),
		Port:     f.Port,
		KeyPath:  strings.TrimSpace(f.KeyPath),
		Password: f.Password,
	}
	if opts.Port <= 0 {
		opts.Port = DefaultSSHPort
	}
	if opts.KeyPath == "" && keys.UseSSHKey {
		opts.KeyPath = strings.TrimSpace(keys.SSHKeyPath)
	}
	return opts
}

// FavoriteRef is a favorite with its position in the saved list.
type FavoriteRef struct {
	Index    int
	Favorite Favorite
}

// FavoriteGroup collects favorites sharing a group name.
type FavoriteGroup struct {
	Name      string
	Favorites []FavoriteRef
}

// GroupFavorites groups favorites by name in order of first appearance.
func GroupFavorites(favorites []Favorite) []FavoriteGroup {
	var groups []FavoriteGroup
	index := make(map[string]int)
	for i, fav := range favorites {
		name := strings.TrimSpace(fav.Group)
		if name == "" {
			name = UngroupedName
		}
		pos, ok := index[name]
		if !ok {
			pos = len(groups)
			index[name] = pos
			groups = append(groups, FavoriteGroup{Name: name})
		}
		groups[pos].Favorites = append(groups[pos].Favorites, FavoriteRef{Index: i, Favorite: fav})
	}
	return groups
}
