package cerise

import (
	"reflect"
	"runtime/debug"
	"sync"
)

var (
	v     string
	vOnce sync.Once
)

// Version returns the module version as recorded in the caller's build
// info, or "dev" for git clones and vendored copies.
func Version() string {
	vOnce.Do(func() {
		// Determine our package name without hardcoding a string
		type getPackageName struct{}
		thisPackagePath := reflect.TypeOf(getPackageName{}).PkgPath()

		bi, ok := debug.ReadBuildInfo()
		if ok {
			for _, dep := range bi.Deps {
				if dep.Path == thisPackagePath {
					v = dep.Version
					break
				}
			}
		}
		if v == "" || v == "(devel)" {
			v = "dev"
		}
	})
	return v
}
