package utils

import "github.com/spf13/viper"

// Set the viper defaults for a patchbay session.
// For use in cmd, as well as several examples.
func SetViperDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
	viper.SetDefault("ringcapacityframes", 8192)
	viper.SetDefault("resamplequality", 10)
	viper.SetDefault("runduration", 5)
	viper.SetDefault("tonefrequency", 440.0)
	viper.SetDefault("outputwav", "patchbay-out.wav")
}
