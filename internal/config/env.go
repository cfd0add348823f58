package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables read by ApplyEnv.
const (
	EnvDataset = "PRNUSCAN_DATASET"
	EnvOutput  = "PRNUSCAN_OUTPUT"
	EnvDBDir   = "PRNUSCAN_DB_DIR"
	EnvDevices = "PRNUSCAN_DEVICES"
)

// DefaultEnvFile is the dotenv file loaded by LoadEnv when no path is given.
const DefaultEnvFile = ".env"

// LoadEnv loads variables from a dotenv file into the process environment.
// Variables already set in the environment win. A missing file is not an error.
func LoadEnv(path string) error {
	if path == "" {
		path = DefaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// ApplyEnv overlays the PRNUSCAN_* environment variables onto the config.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvDataset); v != "" {
		c.Dataset = v
	}
	if v := os.Getenv(EnvOutput); v != "" {
		c.Output = v
	}
	if v := os.Getenv(EnvDBDir); v != "" {
		c.DBDir = v
	}
	if v := os.Getenv(EnvDevices); v != "" {
		devices, err := ParseDeviceList(v, c.DeviceMin, c.DeviceMax)
		if err != nil {
			return err
		}
		c.Devices = devices
	}
	return nil
}
