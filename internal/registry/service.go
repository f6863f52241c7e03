// Package registry holds the configured vault watchlist: the vaults the
// score publisher keeps warm and the dashboard lists by default.
package registry

import (
	"strings"

	"go.uber.org/zap"
)

const (
	VersionV1 = "v1"
	VersionV2 = "v2"
)

// Service exposes the parsed watchlist.
type Service struct {
	vaults []Vault
}

// NewService parses watchlist entries of the form "address@version@label".
// Version and label are optional; the version defaults to v1. Entries with no
// address are dropped, unknown versions fall back to v1 with a warning.
func NewService(entries []string, logger *zap.SugaredLogger) *Service {
	vaults := make([]Vault, 0, len(entries))
	for _, entry := range entries {
		parts := strings.SplitN(entry, "@", 3)

		address := strings.TrimSpace(parts[0])
		if address == "" {
			continue
		}

		vault := Vault{Address: address, Version: VersionV1}
		if len(parts) > 1 {
			switch version := strings.ToLower(strings.TrimSpace(parts[1])); version {
			case VersionV1, VersionV2:
				vault.Version = version
			case "":
			default:
				if logger != nil {
					logger.Warnw("Unknown vault version in watchlist; assuming v1", "entry", entry, "version", parts[1])
				}
			}
		}
		if len(parts) > 2 {
			vault.Label = strings.TrimSpace(parts[2])
		}

		vaults = append(vaults, vault)
	}

	return &Service{vaults: vaults}
}

// List returns the watchlist in configuration order.
func (s *Service) List() []Vault {
	return s.vaults
}

// Get looks a vault up by address, case-insensitively.
func (s *Service) Get(address string) (Vault, bool) {
	for _, v := range s.vaults {
		if strings.EqualFold(v.Address, address) {
			return v, true
		}
	}
	return Vault{}, false
}
