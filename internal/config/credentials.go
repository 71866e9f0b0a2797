package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Credentials holds the underline.io account used to log in. They are read
// from the environment (optionally seeded from a .env file) and never from the
// config file.
type Credentials struct {
	Email      string `envconfig:"UNDERLINE_EMAIL" validate:"required,email"`
	Password   string `envconfig:"UNDERLINE_PASSWORD" validate:"required"`
	RememberMe bool   `envconfig:"UNDERLINE_REMEMBER_ME" default:"false"`
}

// LoadCredentials reads Credentials from the environment. Missing env files
// are ignored; variables already set win over file values.
func LoadCredentials(envFiles ...string) (Credentials, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Credentials{}, fmt.Errorf("load env file: %w", err)
	}

	var c Credentials
	if err := envconfig.Process("", &c); err != nil {
		return Credentials{}, fmt.Errorf("process env: %w", err)
	}
	if err := validator.New().Struct(c); err != nil {
		return Credentials{}, fmt.Errorf("invalid credentials: %w", err)
	}
	return c, nil
}
