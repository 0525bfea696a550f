package cli

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func bind(v *viper.Viper, flag *pflag.Flag, key string) {
	if flag == nil {
		panic("cli: binding unknown flag for " + key)
	}
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}
