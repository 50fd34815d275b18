// Package naming derives short, readable table aliases from SQL table names.
package naming

// Config holds naming customization options
type Config struct {
	// SingularOverrides maps plural -> custom singular
	// Example: {"people": "person", "data": "datum"}
	SingularOverrides map[string]string `mapstructure:"singular_overrides"`

	// AliasOverrides maps a table name to a fixed alias prefix
	// Example: {"order_items": "li"}
	AliasOverrides map[string]string `mapstructure:"alias_overrides"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		SingularOverrides: make(map[string]string),
		AliasOverrides:    make(map[string]string),
	}
}
