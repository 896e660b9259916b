package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Seed describes the registry a fresh store is populated with. Rounds are
// fixed by the schema and referenced by id.
type Seed struct {
	Criteria []SeedCriterion `koanf:"criteria"`
	Bands    []SeedBand      `koanf:"bands"`
	Users    []SeedUser      `koanf:"users"`
}

// SeedCriterion is one scoring dimension of a round.
type SeedCriterion struct {
	Round        int64   `koanf:"round"`
	Name         string  `koanf:"name"`
	Weight       float64 `koanf:"weight"`
	DisplayOrder int     `koanf:"display_order"`
}

// SeedBand is one performing act.
type SeedBand struct {
	Round            int64  `koanf:"round"`
	Name             string `koanf:"name"`
	PerformanceOrder int    `koanf:"performance_order"`
}

// SeedUser is a judge or an admin.
type SeedUser struct {
	Name string `koanf:"name"`
	Role string `koanf:"role"`
}

// LoadSeed parses a YAML seed file.
func LoadSeed(_ context.Context, path string) (*Seed, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
	}
	var s Seed
	if err := k.UnmarshalWithConf("", &s, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the seed before anything is written to the store.
func (s *Seed) Validate() error {
	for i, c := range s.Criteria {
		if strings.TrimSpace(c.Name) == "" || c.Weight <= 0 || c.Round <= 0 {
			return fmt.Errorf("%w: criteria[%d] needs a name, a round and a positive weight", ErrInvalidSeed, i)
		}
	}
	for i, b := range s.Bands {
		if strings.TrimSpace(b.Name) == "" || b.Round <= 0 || b.PerformanceOrder <= 0 {
			return fmt.Errorf("%w: bands[%d] needs a name, a round and a positive performance_order", ErrInvalidSeed, i)
		}
	}
	for i, u := range s.Users {
		if strings.TrimSpace(u.Name) == "" || (u.Role != "judge" && u.Role != "admin") {
			return fmt.Errorf("%w: users[%d] needs a name and role judge or admin", ErrInvalidSeed, i)
		}
	}
	return nil
}
