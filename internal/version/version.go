// Package version хранит сведения о сборке; значения подставляются через -ldflags:
//
//	-X github.com/vladislavdragonenkov/farmoms/internal/version.version=v1.2.0
package version

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build — сведения о текущей сборке.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает сведения о сборке текущего бинарника.
func Current() Build {
	return Build{Version: version, Commit: commit, Date: date}
}

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// GetCommit возвращает хеш коммита сборки.
func GetCommit() string { return commit }

// Fields возвращает сведения о сборке в виде полей лога.
func (b Build) Fields() log.Fields {
	return log.Fields{
		"version":    b.Version,
		"commit":     b.Commit,
		"build_date": b.Date,
	}
}

// IsDev сообщает, что бинарник собран без -ldflags.
func (b Build) IsDev() bool { return b.Version == "dev" }

func (b Build) String() string {
	return fmt.Sprintf("farmoms %s (commit %s, built %s)", b.Version, b.Commit, b.Date)
}
