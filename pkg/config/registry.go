package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/woof-software/streamer-report/pkg/stream"
)

// Production addresses on Ethereum mainnet.
const (
	CompAddress       = "0xc00e94Cb662C3520282E6f5717214004A7f26888"
	USDCAddress       = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	USDCOracleAddress = "0x8fFfFfd4AfB6115b954Bd326cbe7B4BA576818f6"
	USDOracleAddress  = "0xD72ac1bCE9177CFe7aEb5d0516a38c88a64cE0AB"
)

// DefaultRegistry returns the production stream targets in report order.
func DefaultRegistry() stream.Registry {
	return stream.Registry{
		Assets: stream.Assets{
			Comp:       common.HexToAddress(CompAddress),
			V1Native:   common.HexToAddress(USDCAddress),
			USDCOracle: common.HexToAddress(USDCOracleAddress),
			USDOracle:  common.HexToAddress(USDOracleAddress),
		},
		Targets: []stream.Target{
			{Address: common.HexToAddress("0xF088339DD8e79819A41aDD5FFB75d9F245AfaAb1"), Vendor: "Woof Software", Version: stream.V1},
			{Address: common.HexToAddress("0x334791289a906Ac8f96ac0f90E7A91Bf4AaE4A60"), Vendor: "SSP", Version: stream.V2},
			{Address: common.HexToAddress("0xAF9CEE006AE377e88f3BBd668e3d67807F546Bd8"), Vendor: "ZeroShadow", Version: stream.V2},
			{Address: common.HexToAddress("0x36a0eB84154797DAdCEaCFD046785dB31094C308"), Vendor: "Tally", Version: stream.V2},
			{Address: common.HexToAddress("0xEA2B6BC719CF6D2Fed07865d26987D32d570DbBD"), Vendor: "Gauntlet", Version: stream.V2},
		},
	}
}

// registryFile is the YAML layout of a registry. Omitted assets keep their
// production defaults.
type registryFile struct {
	Assets struct {
		Comp       string `yaml:"comp"`
		V1Native   string `yaml:"v1_native"`
		USDCOracle string `yaml:"usdc_oracle"`
		USDOracle  string `yaml:"usd_oracle"`
	} `yaml:"assets"`
	Streams []struct {
		Address string `yaml:"address"`
		Vendor  string `yaml:"vendor"`
		Version string `yaml:"version"`
	} `yaml:"streams"`
}

// LoadRegistry returns the registry in path, or the default registry when path
// is empty.
func LoadRegistry(path string) (stream.Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return stream.Registry{}, &Error{Field: "STREAMS_FILE", Err: err}
	}
	reg, err := ParseRegistry(raw)
	if err != nil {
		return stream.Registry{}, &Error{Field: "STREAMS_FILE", Err: fmt.Errorf("%s: %w", path, err)}
	}
	return reg, nil
}

// ParseRegistry decodes a YAML registry document.
func ParseRegistry(raw []byte) (stream.Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return stream.Registry{}, fmt.Errorf("decode yaml: %w", err)
	}

	reg := DefaultRegistry()
	reg.Targets = nil

	for _, a := range []struct {
		name string
		raw  string
		dst  *common.Address
	}{
		{"assets.comp", file.Assets.Comp, &reg.Assets.Comp},
		{"assets.v1_native", file.Assets.V1Native, &reg.Assets.V1Native},
		{"assets.usdc_oracle", file.Assets.USDCOracle, &reg.Assets.USDCOracle},
		{"assets.usd_oracle", file.Assets.USDOracle, &reg.Assets.USDOracle},
	} {
		if a.raw == "" {
			continue
		}
		addr, err := parseAddress(a.raw)
		if err != nil {
			return stream.Registry{}, fmt.Errorf("%s: %w", a.name, err)
		}
		*a.dst = addr
	}

	if len(file.Streams) == 0 {
		return stream.Registry{}, errors.New("no streams")
	}
	seen := make(map[common.Address]bool, len(file.Streams))
	for i, s := range file.Streams {
		addr, err := parseAddress(s.Address)
		if err != nil {
			return stream.Registry{}, fmt.Errorf("streams[%d].address: %w", i, err)
		}
		if seen[addr] {
			return stream.Registry{}, fmt.Errorf("streams[%d]: duplicate address %s", i, addr.Hex())
		}
		seen[addr] = true
		version, err := stream.ParseVersion(s.Version)
		if err != nil {
			return stream.Registry{}, fmt.Errorf("streams[%d].version: %w", i, err)
		}
		vendor := strings.TrimSpace(s.Vendor)
		if vendor == "" {
			return stream.Registry{}, fmt.Errorf("streams[%d].vendor: required", i)
		}
		reg.Targets = append(reg.Targets, stream.Target{
			Address:    addr,
			Configured: strings.TrimSpace(s.Address),
			Vendor:     vendor,
			Version:    version,
		})
	}
	return reg, nil
}

func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
