package server

// EntityConfig declares a host entity and its compositions. Attachment and
// image compositions carry the content annotations.
type EntityConfig struct {
	Name         string              `mapstructure:"name"         yaml:"name"`
	Keys         []string            `mapstructure:"keys"         yaml:"keys,omitempty"`
	Kind         string              `mapstructure:"kind"         yaml:"kind,omitempty"`
	Draft        bool                `mapstructure:"draft"        yaml:"draft,omitempty"`
	Compositions []CompositionConfig `mapstructure:"compositions" yaml:"compositions,omitempty"`
	// Annotations for kind 'image' entities
	MaxContentSize       string   `mapstructure:"max_content_size"       yaml:"max_content_size,omitempty"`
	AcceptableMediaTypes []string `mapstructure:"acceptable_media_types" yaml:"acceptable_media_types,omitempty"`
}

type CompositionConfig struct {
	Name string   `mapstructure:"name" yaml:"name"`
	Kind string   `mapstructure:"kind" yaml:"kind"`
	Keys []string `mapstructure:"keys" yaml:"keys,omitempty"`

	MaxContentSize       string   `mapstructure:"max_content_size"       yaml:"max_content_size,omitempty"`
	AcceptableMediaTypes []string `mapstructure:"acceptable_media_types" yaml:"acceptable_media_types,omitempty"`

	Compositions []CompositionConfig `mapstructure:"compositions" yaml:"compositions,omitempty"`
}
