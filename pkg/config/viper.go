// Package config wires Viper's search paths and environment binding for the
// minutesbot CLI. Flag defaults and validation live in internal/config;
// this package only decides where the optional config file comes from.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// InitConfig registers the config file search path and environment prefix
// on the global Viper instance. Called once via cobra.OnInitialize, before
// any subcommand's RunE.
func InitConfig() {
	viper.SetConfigName("minutesbot")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/minutesbot/")
	viper.AddConfigPath("$HOME/.minutesbot")

	viper.SetEnvPrefix("CRAWLER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			zap.L().Debug("no config file found; using flags, defaults, and environment")
		} else {
			zap.L().Warn("error reading config file", zap.Error(err))
		}
		return
	}
	zap.L().Info("using config file", zap.String("path", viper.ConfigFileUsed()))
}
