// Package fieldkit carries module-wide metadata.
package fieldkit

// Version is the release version, overridden at build time with
// -ldflags "-X github.com/mesh-intelligence/fieldkit/pkg/fieldkit.Version=...".
var Version = "0.1.0"

// ModulePath is the Go module path.
const ModulePath = "github.com/mesh-intelligence/fieldkit"
