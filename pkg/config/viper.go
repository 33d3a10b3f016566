// Package config is responsible for initializing the vault's configuration.
// It uses the Viper library to merge settings from a config file, environment
// variables, and built-in defaults into a unified view.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	vaultcfg "github.com/tidefall/newsvault/internal/config"
)

// ApplyDefaults seeds v with the vault's baseline settings. It is split out
// so tests can build isolated viper instances from the same baseline. The
// values themselves live with the typed configuration.
func ApplyDefaults(v *viper.Viper) {
	vaultcfg.SetDefaults(v)
}

// Init initializes the global viper instance: defaults first, then an
// explicit config file or the standard search paths, then NEWSVAULT_-prefixed
// environment variables. A missing config file is not an error unless the
// path was given explicitly; defaults and the environment still apply.
func Init(cfgFile string) error {
	v := viper.GetViper()
	ApplyDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/newsvault/")
		v.AddConfigPath("$HOME/.newsvault")
	}

	v.SetEnvPrefix("NEWSVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}
