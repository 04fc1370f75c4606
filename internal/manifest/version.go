package manifest

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Upgrade modes reported when moving a release from one chart version to
// another.
const (
	ModeMajorUpgrade = "major_upgrade"
	ModeMinorUpgrade = "minor_upgrade"
	ModePatchUpgrade = "patch_upgrade"
	ModeDowngrade    = "downgrade"
	ModeRefresh      = "refresh"
)

// ParseVersion reads a chart or image version. A leading "v" is optional and
// missing minor or patch components count as zero.
func ParseVersion(v string) (*semver.Version, error) {
	s := strings.TrimSpace(v)
	if strings.HasPrefix(s, "V") {
		s = "v" + s[1:]
	}
	parsed, err := semver.NewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", v, err)
	}
	return parsed, nil
}

// CompareVersions orders two versions. Pre-releases sort before their
// release, so 1.2.3-rc1 < 1.2.3; build metadata is ignored.
func CompareVersions(a, b string) (int, error) {
	va, err := ParseVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := ParseVersion(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// UpgradePlan describes what installing a version over a deployed one does.
type UpgradePlan struct {
	Mode              string `json:"mode"`
	DeployedVersion   string `json:"deployed_version"`
	InstallingVersion string `json:"installing_version"`
}

// ClassifyUpgrade names the kind of move from deployed to installing. A
// forward move is a major upgrade when the major number grows, a minor
// upgrade when the minor number grows, and a patch upgrade otherwise,
// which includes promoting a pre-release to its release.
func ClassifyUpgrade(deployed, installing string) (UpgradePlan, error) {
	from, err := ParseVersion(deployed)
	if err != nil {
		return UpgradePlan{}, err
	}
	to, err := ParseVersion(installing)
	if err != nil {
		return UpgradePlan{}, err
	}

	plan := UpgradePlan{DeployedVersion: deployed, InstallingVersion: installing}
	switch order := to.Compare(from); {
	case order < 0:
		plan.Mode = ModeDowngrade
	case order == 0:
		plan.Mode = ModeRefresh
	case to.Major() > from.Major():
		plan.Mode = ModeMajorUpgrade
	case to.Minor() > from.Minor():
		plan.Mode = ModeMinorUpgrade
	default:
		plan.Mode = ModePatchUpgrade
	}
	return plan, nil
}
