package config

// Default values for configuration options. These are "layer 0" of the
// override chain and work without any config file once client credentials
// are provided through the environment.
const (
	defaultAuthURL           = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenURL          = "https://www.googleapis.com/oauth2/v4/token"
	defaultScope             = "https://www.googleapis.com/auth/photoslibrary.appendonly"
	defaultRedirectPort      = 0
	defaultAPIURL            = "https://photoslibrary.googleapis.com/v1"
	defaultUploadURL         = "https://photoslibrary.googleapis.com/v1/uploads"
	defaultBatchSize         = 50
	defaultRefreshMargin     = "60s"
	defaultRestartBackoff    = "10s"
	defaultEventQueueSize    = 5
	defaultRootCheckInterval = "30s"
	defaultSettleDelay       = "2s"
	defaultBandwidthLimit    = "0"
	defaultIgnoreFile        = ".gphotosignore"
	defaultMaxFileSize       = "0"
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
	defaultLogRetentionDays  = 30
	defaultLogMaxSizeMB      = 50
	defaultConnectTimeout    = "10s"
	defaultDataTimeout       = "120s"
	defaultUserAgent         = "gphotos-sync/0.1"
)

// DefaultMediaPatterns are the include globs used when [filter] include is
// unset: common still-image, raw, and video containers, any case.
var DefaultMediaPatterns = []string{
	"**/*.{jpg,jpeg,png,gif,heic,heif,webp,tif,tiff,bmp}",
	"**/*.{JPG,JPEG,PNG,GIF,HEIC,HEIF,WEBP,TIF,TIFF,BMP}",
	"**/*.{raw,dng,cr2,nef,arw,RAW,DNG,CR2,NEF,ARW}",
	"**/*.{mp4,mov,m4v,avi,3gp,mkv,MP4,MOV,M4V,AVI,3GP,MKV}",
}

// DefaultConfig returns a Config populated with all default values.
// It is the starting point for TOML decoding so unset fields keep defaults.
func DefaultConfig() *Config {
	return &Config{
		Remote:  defaultRemoteConfig(),
		Sync:    defaultSyncConfig(),
		Filter:  defaultFilterConfig(),
		Logging: defaultLoggingConfig(),
		Network: defaultNetworkConfig(),
	}
}

func defaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		AuthURL:      defaultAuthURL,
		TokenURL:     defaultTokenURL,
		Scopes:       []string{defaultScope},
		RedirectPort: defaultRedirectPort,
		APIURL:       defaultAPIURL,
		UploadURL:    defaultUploadURL,
	}
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		BatchSize:         defaultBatchSize,
		RefreshMargin:     defaultRefreshMargin,
		RestartBackoff:    defaultRestartBackoff,
		EventQueueSize:    defaultEventQueueSize,
		ScanOnStart:       true,
		RootCheckInterval: defaultRootCheckInterval,
		SettleDelay:       defaultSettleDelay,
		BandwidthLimit:    defaultBandwidthLimit,
	}
}

func defaultFilterConfig() FilterConfig {
	return FilterConfig{
		Include:      append([]string(nil), DefaultMediaPatterns...),
		IgnoreFile:   defaultIgnoreFile,
		SkipDotfiles: true,
		MaxFileSize:  defaultMaxFileSize,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:         defaultLogLevel,
		LogFormat:        defaultLogFormat,
		LogRetentionDays: defaultLogRetentionDays,
		LogMaxSizeMB:     defaultLogMaxSizeMB,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout: defaultConnectTimeout,
		DataTimeout:    defaultDataTimeout,
		UserAgent:      defaultUserAgent,
	}
}
