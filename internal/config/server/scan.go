package server

type ScanServerConfig struct {
	Enabled  bool   `mapstructure:"enabled"  yaml:"enabled"`
	URL      string `mapstructure:"url"      yaml:"url"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	// Expiry after which a Clean verdict must be renewed before content is served again.
	Expiry  string `mapstructure:"expiry"  yaml:"expiry"`
	Timeout string `mapstructure:"timeout" yaml:"timeout"`
}
