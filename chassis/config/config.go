package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Environment - one remote deployment target (test, production, simulated).
type Environment struct {
	Name         string `yaml:"name"`
	BaseURL      string `yaml:"baseURL"`
	TokenURL     string `yaml:"tokenURL"`
	ClientID     string `yaml:"clientID"`
	ClientSecret string `yaml:"clientSecret"`
}

// AppConfig ...
type AppConfig struct {
	Storage struct {
		DSN string `yaml:"dsn"`
	}
	AWS struct {
		Region             string `yaml:"region"`
		CredentialsFile    string `yaml:"credentialsFile"`
		CredentialsProfile string `yaml:"credentialsProfile"`
		EventQueueName     string `yaml:"eventQueueName"`
		EventQueueURL      string `yaml:"eventQueueURL"`
		Retries            int    `yaml:"sendRetries"`
	}
	Gateway struct {
		Environment  string        `yaml:"environment"`
		Environments []Environment `yaml:"environments"`
	}
	Coordinator struct {
		MaxAutomaticRetries int    `yaml:"maxAutomaticRetries"`
		MaxTotalAttempts    int    `yaml:"maxTotalAttempts"`
		LogLevel            string `yaml:"loglevel"`
	}
	Poller struct {
		PollingIntervalMinutes int `yaml:"pollingIntervalMinutes"`
		PollingTimeoutHours    int `yaml:"pollingTimeoutHours"`
	}
	API struct {
		Addr string `yaml:"addr"`
	}
}

// Read ...
func Read() (*AppConfig, error) {
	filename := os.Getenv("CFG_PATH")
	cfg := &AppConfig{}
	buff, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	err = yaml.Unmarshal(buff, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Coordinator.MaxAutomaticRetries == 0 {
		cfg.Coordinator.MaxAutomaticRetries = 3
	}
	if cfg.Coordinator.MaxTotalAttempts == 0 {
		cfg.Coordinator.MaxTotalAttempts = 10
	}
	if cfg.Poller.PollingIntervalMinutes == 0 {
		cfg.Poller.PollingIntervalMinutes = 5
	}
	if cfg.Poller.PollingTimeoutHours == 0 {
		cfg.Poller.PollingTimeoutHours = 72
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = ":2112"
	}
	return cfg, nil
}

// FindEnvironment ...
func (cfg *AppConfig) FindEnvironment(name string) (Environment, error) {
	for _, env := range cfg.Gateway.Environments {
		if env.Name == name {
			return env, nil
		}
	}
	return Environment{}, fmt.Errorf("unknown environment %q", name)
}
