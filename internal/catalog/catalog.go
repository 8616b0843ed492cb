// Package catalog holds static vehicle and medal metadata loaded from a
// YAML file.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"blitz-tracker/internal/config"
	"blitz-tracker/internal/domain"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const Undefined = "undefined"

type file struct {
	Vehicles []vehicleEntry `yaml:"vehicles"`
	Medals   []medalEntry   `yaml:"medals"`
}

type vehicleEntry struct {
	TankID    int64  `yaml:"tank_id"`
	Name      string `yaml:"name"`
	Tier      int    `yaml:"tier"`
	Nation    string `yaml:"nation"`
	Type      string `yaml:"type"`
	IsPremium bool   `yaml:"is_premium"`
	Images    struct {
		Preview string `yaml:"preview"`
		Normal  string `yaml:"normal"`
	} `yaml:"images"`
}

type medalEntry struct {
	Name  string `yaml:"name"`
	Image string `yaml:"image"`
}

type Catalog struct {
	vehicles map[int64]domain.VehicleInfo
	medals   map[string]string
}

// New loads the catalog from CATALOG_PATH. A missing file yields an empty
// catalog so every lookup falls back to "undefined".
func New(cfg *config.Config, logger zerolog.Logger) (*Catalog, error) {
	raw, err := os.ReadFile(cfg.CatalogPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn().Str("path", cfg.CatalogPath).Msg("catalog file not found, using empty catalog")
		return Parse(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	c, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	logger.Info().
		Str("path", cfg.CatalogPath).
		Int("vehicles", len(c.vehicles)).
		Int("medals", len(c.medals)).
		Msg("catalog loaded")
	return c, nil
}

func Parse(raw []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := &Catalog{
		vehicles: make(map[int64]domain.VehicleInfo, len(f.Vehicles)),
		medals:   make(map[string]string, len(f.Medals)),
	}
	for _, v := range f.Vehicles {
		c.vehicles[v.TankID] = domain.VehicleInfo{
			Name:      orUndefined(v.Name),
			Tier:      v.Tier,
			Nation:    orUndefined(v.Nation),
			Type:      orUndefined(v.Type),
			IsPremium: v.IsPremium,
			Images: domain.VehicleImages{
				Preview: orUndefined(v.Images.Preview),
				Normal:  orUndefined(v.Images.Normal),
			},
		}
	}
	for _, m := range f.Medals {
		c.medals[m.Name] = orUndefined(m.Image)
	}
	return c, nil
}

func (c *Catalog) Vehicle(tankID int64) domain.VehicleInfo {
	if v, ok := c.vehicles[tankID]; ok {
		return v
	}
	return domain.VehicleInfo{
		Name:   Undefined,
		Nation: Undefined,
		Type:   Undefined,
		Images: domain.VehicleImages{Preview: Undefined, Normal: Undefined},
	}
}

func (c *Catalog) MedalImage(name string) string {
	if img, ok := c.medals[name]; ok {
		return img
	}
	return Undefined
}

func orUndefined(s string) string {
	if s == "" {
		return Undefined
	}
	return s
}
