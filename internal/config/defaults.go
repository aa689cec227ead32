package config

const (
	defaultConfigPath                = "~/.config/linesync/config.toml"
	defaultDataDir                   = "~/.local/share/linesync"
	defaultLogDir                    = "~/.local/share/linesync/logs"
	defaultPhotoDir                  = "~/.local/share/linesync/photos"
	defaultAPIBind                   = "127.0.0.1:7488"
	defaultRecordsTable              = "production_records"
	defaultLinesTable                = "production_lines"
	defaultMembersTable              = "production_line_members"
	defaultFinanceTable              = "financial_records"
	defaultUsersTable                = "users"
	defaultPhotoBucket               = "production-photos"
	defaultRequestTimeout            = 30
	defaultURLMode                   = URLModePublic
	defaultSignedURLTTL              = 3600
	defaultMaxPhotoBytes             = 5 * 1024 * 1024
	defaultMaxPhotoDimension         = 2048
	defaultJPEGQuality               = 80
	defaultProbeInterval             = 15
	defaultProbeTimeout              = 5
	defaultRealtimeHeartbeatInterval = 25
	defaultRealtimeReconnectDelay    = 5
	defaultNotifyRequestTimeout      = 10
	defaultMQTTTopic                 = "linesync"
	defaultMQTTClientID              = "linesyncd"
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
)

// Photo URL modes.
const (
	URLModePublic = "public"
	URLModeSigned = "signed"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			LogDir:   defaultLogDir,
			PhotoDir: defaultPhotoDir,
			APIBind:  defaultAPIBind,
		},
		Backend: Backend{
			RecordsTable:   defaultRecordsTable,
			LinesTable:     defaultLinesTable,
			MembersTable:   defaultMembersTable,
			FinanceTable:   defaultFinanceTable,
			UsersTable:     defaultUsersTable,
			PhotoBucket:    defaultPhotoBucket,
			RequestTimeout: defaultRequestTimeout,
		},
		Photos: Photos{
			URLMode:      defaultURLMode,
			SignedURLTTL: defaultSignedURLTTL,
			MaxBytes:     defaultMaxPhotoBytes,
			MaxDimension: defaultMaxPhotoDimension,
			JPEGQuality:  defaultJPEGQuality,
		},
		Connectivity: Connectivity{
			ProbeInterval: defaultProbeInterval,
			ProbeTimeout:  defaultProbeTimeout,
			Netlink:       true,
		},
		Realtime: Realtime{
			Enabled:           true,
			HeartbeatInterval: defaultRealtimeHeartbeatInterval,
			ReconnectDelay:    defaultRealtimeReconnectDelay,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			MQTTTopic:      defaultMQTTTopic,
			MQTTClientID:   defaultMQTTClientID,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
