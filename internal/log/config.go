package log

// Config selects the level, line layout and appenders of the process logger.
type Config struct {
	Level   string          `mapstructure:"level" yaml:"level"`
	Pattern string          `mapstructure:"pattern" yaml:"pattern"`
	Time    string          `mapstructure:"time" yaml:"time"`
	File    FileAppenderOpt `mapstructure:"file" yaml:"file"`
}

const (
	DefaultPattern = "%time [%level] %msg %field"
	DefaultTime    = "2006-01-02 15:04:05.000"
)
