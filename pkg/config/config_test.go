package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "quickpay", cfg.App.Name)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "2022-02-01", cfg.Finix.APIVersion)
	assert.Equal(t, "https://finix.sandbox-payments-api.com", cfg.Finix.BaseURL)
	assert.Equal(t, 20, cfg.Orders.ListDefaultLimit)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App:    AppConfig{Env: "production"},
			Finix:  FinixConfig{Username: "u", Password: "p", MerchantID: "MU1"},
			Orders: OrdersConfig{ListDefaultLimit: 20, ListMaxLimit: 100},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "валидная конфигурация", mutate: func(c *Config) {}},
		{name: "auth без ключа", mutate: func(c *Config) { c.Auth.Enabled = true }, wantErr: true},
		{name: "fake шлюз в production", mutate: func(c *Config) { c.Finix.Fake = true }, wantErr: true},
		{name: "нет учётных данных Finix", mutate: func(c *Config) { c.Finix.Password = "" }, wantErr: true},
		{name: "webhook user без hash", mutate: func(c *Config) { c.Webhook.BasicUser = "finix" }, wantErr: true},
		{name: "default больше max", mutate: func(c *Config) { c.Orders.ListDefaultLimit = 500 }, wantErr: true},
		{
			name: "fake шлюз в development",
			mutate: func(c *Config) {
				c.App.Env = "development"
				c.Finix = FinixConfig{Fake: true}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
