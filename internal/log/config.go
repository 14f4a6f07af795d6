package log

// LoggerConfig configures the global logger.
type LoggerConfig struct {
	Level     string           `mapstructure:"level" yaml:"level"`
	Pattern   string           `mapstructure:"pattern" yaml:"pattern"`
	Time      string           `mapstructure:"time" yaml:"time"`
	Caller    bool             `mapstructure:"caller" yaml:"caller"`
	Appenders []AppenderConfig `mapstructure:"appenders" yaml:"appenders"`
}

// AppenderConfig selects an output. Type is "console" or "file"; Options
// are decoded per type.
type AppenderConfig struct {
	Type    string                 `mapstructure:"type" yaml:"type"`
	Options map[string]interface{} `mapstructure:"options" yaml:"options,omitempty"`
}

// FileAppenderOpt are the options of a "file" appender.
type FileAppenderOpt struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`    // megabytes
	MaxBackups int    `mapstructure:"max_backups"` // files kept
	MaxAge     int    `mapstructure:"max_age"`     // days
	Compress   bool   `mapstructure:"compress"`
}

const (
	DefaultPattern = "%time [%level] %caller: %msg %field\n"
	DefaultTime    = "2006-01-02 15:04:05.000"
)

// DefaultConfig logs info and above to stdout.
func DefaultConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:     "info",
		Pattern:   DefaultPattern,
		Time:      DefaultTime,
		Appenders: []AppenderConfig{{Type: "console"}},
	}
}
