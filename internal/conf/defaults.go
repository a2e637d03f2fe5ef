package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig sets viper defaults for every configuration parameter.
func setDefaultConfig() {
	viper.SetDefault("main.name", "mindtrack-go")
	viper.SetDefault("main.log.enabled", false)
	viper.SetDefault("main.log.path", "mindtrack.log")

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.host", "0.0.0.0")
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.debug", false)

	viper.SetDefault("security.jwtsecret", "")

	viper.SetDefault("database.postgres.enabled", false)
	viper.SetDefault("database.postgres.dsn", "")
	viper.SetDefault("database.sqlite.enabled", true)
	viper.SetDefault("database.sqlite.path", "mindtrack.db")

	viper.SetDefault("listener.enabled", false)
	viper.SetDefault("listener.dsn", "")
	viper.SetDefault("listener.channel", "suggestions_channel")
	viper.SetDefault("listener.polltimeout", 1*time.Second)
	viper.SetDefault("listener.minbackoff", 1*time.Second)
	viper.SetDefault("listener.maxbackoff", 30*time.Second)

	viper.SetDefault("cache.maxrecent", 50)
	viper.SetDefault("cache.sequencettl", 12*time.Hour)
	viper.SetDefault("cache.blobttl", 1*time.Hour)

	viper.SetDefault("sampling.maxhashdistance", 6)
	viper.SetDefault("sampling.fingerprintminsim", 0.97)
	viper.SetDefault("sampling.structuralthreshold", 0.85)
	viper.SetDefault("sampling.thumbnailwidth", 480)

	viper.SetDefault("sse.heartbeatinterval", 25*time.Second)
	viper.SetDefault("sse.clientbuffer", 64)
}
