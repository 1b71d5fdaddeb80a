package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Name   string `yaml:"name" json:"name" env:"APP_NAME" env-default:"fireengine"`
	Server Server `yaml:"server" json:"server"`
	Store  Store  `yaml:"store" json:"store"`
	Engine Engine `yaml:"engine" json:"engine"`
	Auth   Auth   `yaml:"auth" json:"auth"`
}

type Server struct {
	Addr string `yaml:"addr" json:"addr" env:"REST_API_ADDR" env-default:":8080"`
}

type Store struct {
	// CouchDSN points at the activity database, eg
	// http://localhost:5984/activities. Empty selects the in-memory store.
	CouchDSN string `yaml:"couchDsn" json:"couchDsn" env:"COUCH_DSN"`
}

type Engine struct {
	// DesignsDir is the directory the design registry loads *.json from.
	DesignsDir    string `yaml:"designsDir" json:"designsDir" env:"DESIGNS_DIR" env-default:"./designs"`
	FireTimeoutMs int    `yaml:"fireTimeoutMs" json:"fireTimeoutMs" env:"FIRE_TIMEOUT_MS" env-default:"30000"`
	VmPoolMin     int    `yaml:"vmPoolMin" json:"vmPoolMin" env:"VM_POOL_MIN" env-default:"2"`
	VmPoolMax     int    `yaml:"vmPoolMax" json:"vmPoolMax" env:"VM_POOL_MAX" env-default:"16"`
}

type Auth struct {
	// JwtSecret verifies bearer tokens. Empty disables token resolution,
	// leaving every caller anonymous.
	JwtSecret string `yaml:"jwtSecret" json:"jwtSecret" env:"JWT_SECRET"`
}

func InitConfig() Config {
	c := Config{}
	var fileName string
	confFile := os.Getenv("CONFIG_FILE")
	if confFile == "" {
		wd, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		fileName = fmt.Sprintf("%s/conf.yaml", wd)
	} else {
		fileName = confFile
	}
	var err error
	if _, perr := os.Stat(fileName); errors.Is(perr, os.ErrNotExist) {
		err = cleanenv.ReadEnv(&c)
		fmt.Printf("Configuration file %s not found. Reading config from ENV.\n", fileName)
	} else {
		err = cleanenv.ReadConfig(fileName, &c)
	}
	if err != nil {
		fmt.Printf("Error occurred while reading the configuration: %s\n", err)
		panic(err)
	}
	return c
}
