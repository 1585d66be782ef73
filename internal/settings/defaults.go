package settings

const (
	DefaultSettingsPath   = "config/settings.json"
	DefaultBaseURL        = "https://grok.com"
	DefaultStateDir       = "state"
	DefaultOutputDir      = "downloads"
	DefaultRedisAddr      = "localhost:6379"
	DefaultTimeoutSeconds = 30

	StorageFile    = "file"
	StorageRedis   = "redis"
	DefaultStorage = StorageFile

	DefaultUpscaleMinMS = 1000
	DefaultUpscaleMaxMS = 2000
	DefaultRefetchMinMS = 3000
	DefaultRefetchMaxMS = 5000
	DefaultDownloadMS   = 500
	DefaultJobStepMinMS = 1000
	DefaultJobStepMaxMS = 2000

	EnvCookie    = "IMAGINE_COOKIE"
	EnvBaseURL   = "IMAGINE_BASE_URL"
	EnvProxy     = "IMAGINE_PROXY"
	EnvRedisAddr = "IMAGINE_REDIS_ADDR"
	EnvRedisDB   = "IMAGINE_REDIS_DB"
)
