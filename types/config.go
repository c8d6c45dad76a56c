package types

// BackendConfig selects and configures the persistence backend.
type BackendConfig struct {
	Type  string      `yaml:"type" env:"TYPE"`
	File  FileConfig  `yaml:"file" envPrefix:"FILE_"`
	Redis RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
}

type FileConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`
}
