package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

const profileSectionPrefix = "profile "

type Profile struct {
	Name   string
	Region string
}

type Registry interface {
	GetProfiles(ctx context.Context) ([]Profile, error)
	GetProfile(ctx context.Context, name string) (Profile, error)
}

type awsRegistry struct {
	cfg *ini.File
}

// DefaultAWSConfigPath honours AWS_CONFIG_FILE like the SDK does.
func DefaultAWSConfigPath() string {
	if path := os.Getenv("AWS_CONFIG_FILE"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".aws", "config")
}

// NewRegistry reads the profiles of a shared AWS config file.
func NewRegistry(path string) (Registry, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config %s: %w", path, err)
	}
	return &awsRegistry{cfg: cfg}, nil
}

func (r *awsRegistry) GetProfiles(_ context.Context) ([]Profile, error) {
	var profiles []Profile
	for _, section := range r.cfg.Sections() {
		if len(section.Keys()) == 0 {
			continue
		}
		profiles = append(profiles, Profile{
			Name:   strings.TrimPrefix(section.Name(), profileSectionPrefix),
			Region: section.Key("region").String(),
		})
	}
	return profiles, nil
}

func (r *awsRegistry) GetProfile(_ context.Context, name string) (Profile, error) {
	for _, sectionName := range []string{profileSectionPrefix + name, name} {
		section, err := r.cfg.GetSection(sectionName)
		if err != nil {
			continue
		}
		return Profile{Name: name, Region: section.Key("region").String()}, nil
	}
	return Profile{}, fmt.Errorf("profile %s not found", name)
}
