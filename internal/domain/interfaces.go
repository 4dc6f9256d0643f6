package domain

import (
	"context"
)

// ClientRepository loads client records from the persistence collaborator
type ClientRepository interface {
	GetClient(ctx context.Context, id string) (*Client, error)
}

// TherapistRepository loads therapist records from the persistence collaborator
type TherapistRepository interface {
	GetTherapist(ctx context.Context, id string) (*Therapist, error)
	ListTherapists(ctx context.Context, ids []string) ([]*Therapist, error)
}

// ProfileBuilder turns a client record into a condition profile.
// Build enforces the scoring preconditions; BuildPartial never fails.
type ProfileBuilder interface {
	Build(client *Client) (*UserConditionProfile, error)
	BuildPartial(client *Client) *UserConditionProfile
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	GetMatchingConfig() *MatchingConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
