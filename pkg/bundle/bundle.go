// Package bundle builds the self-contained artifact shipped to the remote
// execution environment. A bundle packages the serialized call payload,
// declared local modules, directories, files, and requirements files under a
// unique staging location, records a checksummed manifest, and zips the
// result for upload.
package bundle

import (
	"time"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
)

// PayloadFilename is the well-known name of the serialized call payload
// inside the bundle.
const PayloadFilename = "fn_args.json"

// ManifestFilename is the well-known name of the bundle manifest.
const ManifestFilename = "manifest.json"

// OutputDirName is the local working directory bundles are staged under.
const OutputDirName = "codeseeder.out"

// IgnoredPathSegments cause exclusion during bundling. Files whose path
// contains any of these segments are never copied into a bundle.
var IgnoredPathSegments = []string{
	"/build/",
	"/.git/",
	"/.mypy_cache/",
	"__pycache__",
	".egg-info",
	"/codeseeder.out/",
	"/dist/",
	"/node_modules/",
	"/cdk.out/",
}

// Bundle is a fully built, immutable artifact ready for upload.
type Bundle struct {
	// ID uniquely identifies the bundle locally.
	ID string `json:"id"`

	// ZipPath is the local path of the produced zip archive.
	ZipPath string `json:"zip_path"`

	// Manifest lists every included file with its checksum.
	Manifest Manifest `json:"manifest"`

	// CreatedAt is when the bundle was built.
	CreatedAt time.Time `json:"created_at"`
}

// Manifest records the content of a bundle for reproducibility and audit.
type Manifest struct {
	// BundleID is the bundle this manifest describes.
	BundleID string `json:"bundle_id"`

	// FnID is the function identity carried in the payload.
	FnID string `json:"fn_id"`

	// Files maps bundle-relative paths (forward-slash separated) to the
	// SHA-256 checksum of their content.
	Files map[string]string `json:"files"`
}

// Spec describes what goes into a bundle. It is derived from a resolved
// configuration plus the per-call payload.
type Spec struct {
	// Payload is the serialized call crossing the process boundary.
	Payload seeder.CallPayload

	// Dirs maps logical bundle paths to local source directories. Logical
	// keys may contain forward slashes and produce nested directories.
	Dirs map[string]string

	// Files maps logical bundle paths to local source files. Logical keys
	// may contain forward slashes and produce nested directories.
	Files map[string]string
}

// SpecFromConfiguration assembles the bundle spec for one remote call.
// Local modules and requirements files keep the naming conventions the
// remote install phase expects: modules land under their logical name,
// requirements files under "requirements-<name>".
func SpecFromConfiguration(cfg *seeder.Configuration, payload seeder.CallPayload) Spec {
	spec := Spec{
		Payload: payload,
		Dirs:    make(map[string]string, len(cfg.LocalModules)+len(cfg.Dirs)),
		Files:   make(map[string]string, len(cfg.RequirementsFiles)+len(cfg.Files)),
	}
	for name, src := range cfg.LocalModules {
		spec.Dirs[name] = src
	}
	for name, src := range cfg.Dirs {
		spec.Dirs[name] = src
	}
	for name, src := range cfg.RequirementsFiles {
		spec.Files["requirements-"+name] = src
	}
	for name, src := range cfg.Files {
		spec.Files[name] = src
	}
	return spec
}
