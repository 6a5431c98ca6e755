package config

import (
	"log/slog"
	"os"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/internal/utils"
	"github.com/spf13/viper"
)

func LoadConfig(configFilePath string) {
	utils.SetViperDefaults()

	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Info("no config file found", "configFilePath", configFilePath)
		} else {
			slog.Error("error during config read", "err", err)
			panic(err)
		}
	}
}

// Configure the default slog logger from the loaded viper config.
//
// Panics if the configured log level is invalid or the log file cannot be opened,
// since a session without working logging is not worth starting.
func ConfigureLogger() *os.File {
	logFilePointer, err := utils.ConfigureDefaultLogger(
		viper.GetString("loglevel"),
		viper.GetString("logfile"),
		slog.HandlerOptions{},
	)
	if err != nil {
		slog.Error("error during logger configuration", "err", err)
		panic(err)
	}
	return logFilePointer
}
