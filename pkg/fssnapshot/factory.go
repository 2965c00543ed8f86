package fssnapshot

import (
	"fmt"
	"log"
)

const (
	ProviderVshadow = "vshadow"
	ProviderWmic    = "wmic"
	ProviderLvm     = "lvm"
	ProviderNone    = "none"
)

// "" = pick a sensible default for the platform we're running on
func ProviderNames() []string {
	return []string{"", ProviderVshadow, ProviderWmic, ProviderLvm, ProviderNone}
}

// resolves "" to the provider this platform would actually use
func EffectiveProvider(provider string) string {
	if provider == "" {
		return platformDefaultProvider
	}

	return provider
}

func ProviderSnapshotter(
	provider string,
	aliasLetter string,
	lvmSnapshotSize string,
	logger *log.Logger,
) (Snapshotter, error) {
	switch provider {
	case "":
		return ProviderSnapshotter(platformDefaultProvider, aliasLetter, lvmSnapshotSize, logger)
	case ProviderVshadow:
		return VshadowSnapshotter(aliasLetter, logger), nil
	case ProviderWmic:
		return WmicSnapshotter(logger), nil
	case ProviderLvm:
		return lvmSnapshotterIfSupported(lvmSnapshotSize, logger)
	case ProviderNone:
		return NullSnapshotter(), nil
	default:
		return nil, fmt.Errorf("unknown snapshot provider: %q", provider)
	}
}
