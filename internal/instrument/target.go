package instrument

import (
	"regexp"
	"strings"

	"github.com/apex/log"
	"github.com/blacktop/ilcov/internal/support"
	"github.com/blacktop/ilcov/pkg/il"
	"github.com/hashicorp/go-version"
)

const (
	targetFrameworkAttribute    = "System.Runtime.Versioning.TargetFrameworkAttribute"
	internalsVisibleToAttribute = "System.Runtime.CompilerServices.InternalsVisibleToAttribute"
)

var netCorePattern = regexp.MustCompile(`\.NETCoreApp,Version=v(\d+\.\d+)`)

var (
	netCoreMin = version.Must(version.NewVersion("2.0"))
	netCore30  = version.Must(version.NewVersion("3.0"))
	netCore50  = version.Must(version.NewVersion("5.0"))
)

// ResolveTarget picks the support library variant for m.
func ResolveTarget(m *il.Module, logger log.Interface) support.Target {
	for _, a := range m.CustomAttributes {
		if a.TypeName() != targetFrameworkAttribute || len(a.Args) == 0 {
			continue
		}
		value, _ := a.Args[0].(string)
		if t, ok := frameworkTarget(value); ok {
			logger.Debugf("target %s from %s", t, value)
			return t
		}
	}

	if core := m.CoreLibrary; core != nil {
		logger.Debugf("calculating target from core library %s", core.FullName())
		switch core.Name {
		case "netstandard":
			if v, err := core.SemVer(); err == nil && v.Segments()[0] == 2 {
				return support.NetStandard20
			}
		case "System.Private.CoreLib", "System.Runtime":
			return support.NetStandard20
		}
	}
	return support.Net461
}

func frameworkTarget(value string) (support.Target, bool) {
	switch {
	case strings.Contains(value, ".NETFramework,Version="):
		return support.Net461, true
	case strings.Contains(value, ".NETStandard,Version="):
		return support.NetStandard20, true
	}
	match := netCorePattern.FindStringSubmatch(value)
	if match == nil {
		return "", false
	}
	v, err := version.NewVersion(match[1])
	if err != nil {
		return "", false
	}
	switch {
	case v.LessThan(netCoreMin):
		return "", false
	case v.LessThanOrEqual(netCore30):
		return support.NetStandard20, true
	case v.LessThanOrEqual(netCore50):
		return support.NetCoreApp31, true
	default:
		return support.Net60, true
	}
}

// hasInternalsVisibleTo reports whether m exposes internals to other assemblies.
func hasInternalsVisibleTo(m *il.Module) bool {
	return m.HasAttribute(internalsVisibleToAttribute)
}
