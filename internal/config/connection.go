package config

import (
	"fmt"

	"depotci/internal/errs"
)

// DefaultServerPort is used when a connection omits server_port.
const DefaultServerPort = 1666

// ConnectionConfig describes how to reach and authenticate to a depot server.
type ConnectionConfig struct {
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	ServerHost string `mapstructure:"server_host"`
	ServerPort int    `mapstructure:"server_port" default:"1666"`
	ServerTLS  bool   `mapstructure:"server_tls"`
}

// Validate reports missing required fields.
func (c ConnectionConfig) Validate() error {
	if c.Username == "" {
		return errs.Configf("option \"username\" is missing from connection configuration")
	}
	if c.ServerHost == "" {
		return errs.Configf("option \"server_host\" is missing from connection configuration")
	}
	if c.ServerPort <= 0 {
		return errs.Configf("server_port must be positive, got %d", c.ServerPort)
	}
	return nil
}

// Port is the P4PORT value, ssl:-prefixed when TLS is enabled.
func (c ConnectionConfig) Port() string {
	port := fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
	if c.ServerTLS {
		return "ssl:" + port
	}
	return port
}
