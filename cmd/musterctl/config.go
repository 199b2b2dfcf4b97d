package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tarcisiodg/musterctl/internal/service"
)

type fileConfig struct {
	Device         string   `toml:"device"`
	Operator       string   `toml:"operator"`
	Units          []string `toml:"units"`
	StorePath      string   `toml:"store_path"`
	LocalStatePath string   `toml:"local_state_path"`
	AdminAddr      string   `toml:"admin_addr"`
	AdminToken     string   `toml:"admin_token"`
	Grace          string   `toml:"grace"`
	Heartbeat      string   `toml:"heartbeat"`
	PushRetryMax   string   `toml:"push_retry_max"`
}

type runtimeConfig struct {
	Service        service.Config
	StorePath      string
	LocalStatePath string
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		Service: service.Config{
			DeviceName: "muster.local",
			Units:      []string{"LB-1", "LB-2", "LB-3", "LB-4"},
		},
		StorePath:      "muster.db",
		LocalStatePath: "muster.local.db",
	}
}

func loadRuntimeConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runtimeConfig{}, fmt.Errorf("load muster config: %w", err)
	}

	if meta.IsDefined("device") {
		if v := strings.TrimSpace(raw.Device); v != "" {
			cfg.Service.DeviceName = v
		}
	}
	if meta.IsDefined("operator") {
		cfg.Service.Operator = strings.TrimSpace(raw.Operator)
	}
	if meta.IsDefined("units") {
		cfg.Service.Units = normalizeUnits(raw.Units)
	}
	if meta.IsDefined("store_path") {
		cfg.StorePath = strings.TrimSpace(raw.StorePath)
	}
	if meta.IsDefined("local_state_path") {
		cfg.LocalStatePath = strings.TrimSpace(raw.LocalStatePath)
	}
	if meta.IsDefined("admin_addr") {
		cfg.Service.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.Service.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("grace") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Grace))
		if err != nil {
			return runtimeConfig{}, fmt.Errorf("parse grace: %w", err)
		}
		cfg.Service.Grace = d
	}
	if meta.IsDefined("heartbeat") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Heartbeat))
		if err != nil {
			return runtimeConfig{}, fmt.Errorf("parse heartbeat: %w", err)
		}
		cfg.Service.Heartbeat = d
	}
	if meta.IsDefined("push_retry_max") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PushRetryMax))
		if err != nil {
			return runtimeConfig{}, fmt.Errorf("parse push_retry_max: %w", err)
		}
		cfg.Service.Push.MaxDelay = d
	}

	if err := validateRuntimeConfig(cfg); err != nil {
		return runtimeConfig{}, err
	}
	return cfg, nil
}

func validateRuntimeConfig(cfg runtimeConfig) error {
	if strings.TrimSpace(cfg.Service.Operator) == "" {
		return fmt.Errorf("muster config missing operator")
	}
	if len(cfg.Service.Units) == 0 {
		return fmt.Errorf("muster config missing units")
	}
	if strings.TrimSpace(cfg.StorePath) == "" {
		return fmt.Errorf("muster config missing store_path")
	}
	return nil
}

func normalizeUnits(in []string) []string {
	out := make([]string, 0, len(in))
	for _, unit := range in {
		v := strings.TrimSpace(unit)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
