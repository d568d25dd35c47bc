package web

import (
	"github.com/granasat/gopwmbox/pwmbox"
)

var DefaultConfig = Config{
	PWMBox: pwmbox.DefaultConfig,
	Web:    DefaultServerConfig,
	Log:    DefaultLogConfig,
}

type Config struct {
	Device string // serial port of the box, searched automatically if empty
	PWMBox pwmbox.Config
	Web    ServerConfig
	Log    LogConfig
}

type LogConfig struct {
	Level   string // debug, info, warn, error
	Console bool   // human readable output instead of json lines
}

var DefaultLogConfig = LogConfig{
	Level:   "info",
	Console: true,
}
