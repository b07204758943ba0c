package server

import "github.com/spf13/viper"

func GetServerDefault() BaseServerConfig {
	return BaseServerConfig{
		ShutdownTimeout: "10s",

		Log: LogServerConfig{
			Level:      "INFO",
			TimeFormat: "2006-01-02 15:04:05",
			File:       "",
			NoColor:    false,
			JSON:       false,
			NoTerminal: false,
			Rotation: LogServerRotationConfig{
				MaxSize:    128,
				MaxBackups: 5,
				MaxAge:     16,
				Compress:   false,
			},
		},

		HTTP: HTTPServerConfig{
			Address: ":4004",
			Debug:   false,
			Metrics: true,
		},

		Metadata: MetadataServerConfig{
			Type:     "sqlite",
			LogLevel: "silent",
			SQLite: MetadataSQLiteConfig{
				Path: "goattach.db",
			},
		},

		Storage: StorageServerConfig{
			Kind:    StorageKindDB,
			Tenancy: TenancyNone,
		},

		Scan: ScanServerConfig{
			Enabled: false,
			Expiry:  "72h",
			Timeout: "30s",
		},

		Events: EventsServerConfig{
			Workers:    4,
			Buffer:     256,
			MaxRetries: 5,
		},

		Entities: []EntityConfig{
			{
				Name:  "Incidents",
				Keys:  []string{"ID"},
				Draft: true,
				Compositions: []CompositionConfig{
					{Name: "attachments", Kind: "attachments"},
					{
						Name: "conversations",
						Kind: "composition",
						Keys: []string{"ID"},
						Compositions: []CompositionConfig{
							{Name: "attachments", Kind: "attachments"},
						},
					},
				},
			},
			{
				Name:                 "Images",
				Kind:                 "image",
				AcceptableMediaTypes: []string{"image/*"},
			},
		},
	}
}

func setDefaults() {
	defaults := GetServerDefault()

	viper.SetDefault("shutdown_timeout", defaults.ShutdownTimeout)

	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.time_format", defaults.Log.TimeFormat)
	viper.SetDefault("log.file", defaults.Log.File)
	viper.SetDefault("log.no_color", defaults.Log.NoColor)
	viper.SetDefault("log.json", defaults.Log.JSON)
	viper.SetDefault("log.no_terminal", defaults.Log.NoTerminal)
	viper.SetDefault("log.rotation.max_size", defaults.Log.Rotation.MaxSize)
	viper.SetDefault("log.rotation.max_backups", defaults.Log.Rotation.MaxBackups)
	viper.SetDefault("log.rotation.max_age", defaults.Log.Rotation.MaxAge)
	viper.SetDefault("log.rotation.compress", defaults.Log.Rotation.Compress)

	viper.SetDefault("http.address", defaults.HTTP.Address)
	viper.SetDefault("http.debug", defaults.HTTP.Debug)
	viper.SetDefault("http.metrics", defaults.HTTP.Metrics)

	viper.SetDefault("metadata.type", defaults.Metadata.Type)
	viper.SetDefault("metadata.log_level", defaults.Metadata.LogLevel)
	viper.SetDefault("metadata.sqlite.path", defaults.Metadata.SQLite.Path)

	viper.SetDefault("storage.kind", defaults.Storage.Kind)
	viper.SetDefault("storage.tenancy", defaults.Storage.Tenancy)

	viper.SetDefault("scan.enabled", defaults.Scan.Enabled)
	viper.SetDefault("scan.expiry", defaults.Scan.Expiry)
	viper.SetDefault("scan.timeout", defaults.Scan.Timeout)

	viper.SetDefault("events.workers", defaults.Events.Workers)
	viper.SetDefault("events.buffer", defaults.Events.Buffer)
	viper.SetDefault("events.max_retries", defaults.Events.MaxRetries)
}
