package version

import (
	"fmt"
	"runtime/debug"
)

// Заполняются через -ldflags "-X github.com/vladislavdragonenkov/reconciler/internal/version.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags, falling back to build info.
func Info() (v, c, d string) {
	info, ok := debug.ReadBuildInfo()
	return resolve(info, ok)
}

// GetVersion возвращает версию сборки. Для `go install` без ldflags берётся версия модуля.
func GetVersion() string {
	v, _, _ := Info()
	return v
}

// GetCommit возвращает хеш коммита; без ldflags берётся vcs.revision.
func GetCommit() string {
	_, c, _ := Info()
	return c
}

// GetDate возвращает дату сборки; без ldflags берётся vcs.time.
func GetDate() string {
	_, _, d := Info()
	return d
}

func String() string {
	v, c, d := Info()
	return fmt.Sprintf("version=%s commit=%s date=%s", v, c, d)
}

func resolve(info *debug.BuildInfo, ok bool) (v, c, d string) {
	v, c, d = version, commit, date
	if !ok || info == nil {
		return v, c, d
	}

	if v == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		v = info.Main.Version
	}
	for _, setting := range info.Settings {
		switch {
		case setting.Key == "vcs.revision" && c == "unknown" && setting.Value != "":
			c = setting.Value
			if len(c) > 12 {
				c = c[:12]
			}
		case setting.Key == "vcs.time" && d == "unknown" && setting.Value != "":
			d = setting.Value
		}
	}
	return v, c, d
}
