package server

type HTTPServerConfig struct {
	Address string `mapstructure:"address" yaml:"address"`
	Debug   bool   `mapstructure:"debug"   yaml:"debug"`
	Metrics bool   `mapstructure:"metrics" yaml:"metrics"`
}

type EventsServerConfig struct {
	Workers    int `mapstructure:"workers"     yaml:"workers"`
	Buffer     int `mapstructure:"buffer"      yaml:"buffer"`
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
}
