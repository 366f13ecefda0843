package config

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	DataDir         string `yaml:"dataDir"`
	ListenAddr      string `yaml:"listenAddr"`
	MinimumFreeGB   int    `yaml:"minimumFreeGB"`
	ContractGateway string `yaml:"contractGateway"` // empty = in-process ACL store
}

func GetConfig() Config {
	var config Config

	// Read YAML file if present
	data, err := os.ReadFile("config.yaml")
	if err == nil {
		err = yaml.Unmarshal(data, &config)
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	if config.DataDir == "" {
		config.DataDir = "data"
	}

	if config.ListenAddr == "" {
		config.ListenAddr = ":4242"
	}

	// overwrite with cli arguments if provided
	if len(os.Args) > 1 {
		config.DataDir = os.Args[1]
	}

	if len(os.Args) > 2 {
		config.ListenAddr = os.Args[2]
	}

	fmt.Printf("Data dir: %s\n", config.DataDir)
	fmt.Printf("Listen addr: %s\n", config.ListenAddr)

	return config
}
