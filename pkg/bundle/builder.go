package bundle

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
)

// Builder stages and zips bundles under a local working directory.
type Builder struct {
	// workDir is the directory codeseeder.out is created in. Defaults to
	// the current working directory.
	workDir string
}

// NewBuilder creates a bundle builder rooted at workDir. An empty workDir
// means the current working directory.
func NewBuilder(workDir string) *Builder {
	return &Builder{workDir: workDir}
}

// Build walks the spec, copies every declared source into a unique staging
// layout preserving relative structure, writes the payload and manifest, and
// zips the staging directory. The staging directory is removed afterwards;
// the zip is retained for audit until the next build with the same id.
func (b *Builder) Build(ctx context.Context, spec Spec, bundleID string) (*Bundle, error) {
	if bundleID == "" {
		bundleID = uuid.New().String()
	}

	stagingRoot := filepath.Join(b.workDir, OutputDirName, bundleID)
	bundleDir := filepath.Join(stagingRoot, "bundle")

	// A fresh, collision-free staging location per build.
	if err := os.RemoveAll(stagingRoot); err != nil {
		return nil, seeder.NewError(seeder.ErrCodeBundle, "failed to clear staging directory", err)
	}
	if err := os.MkdirAll(bundleDir, 0o755); err != nil {
		return nil, seeder.NewError(seeder.ErrCodeBundle, "failed to create staging directory", err)
	}

	bundle, err := b.build(ctx, spec, bundleID, stagingRoot, bundleDir)
	if rmErr := os.RemoveAll(bundleDir); rmErr != nil && err == nil {
		log.Warn().Err(rmErr).Str("dir", bundleDir).Msg("failed to clean bundle staging directory")
	}
	if err != nil {
		os.RemoveAll(stagingRoot)
		return nil, err
	}
	return bundle, nil
}

func (b *Builder) build(ctx context.Context, spec Spec, bundleID, stagingRoot, bundleDir string) (*Bundle, error) {
	payloadBytes, err := json.Marshal(spec.Payload)
	if err != nil {
		return nil, seeder.NewError(seeder.ErrCodeSerialization,
			"call payload is not JSON-representable", err)
	}
	if err := os.WriteFile(filepath.Join(bundleDir, PayloadFilename), payloadBytes, 0o644); err != nil {
		return nil, seeder.NewError(seeder.ErrCodeBundle, "failed to write call payload", err)
	}

	for _, name := range sortedKeys(spec.Dirs) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := b.copyDir(bundleDir, name, spec.Dirs[name]); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedKeys(spec.Files) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := b.copyFile(bundleDir, name, spec.Files[name]); err != nil {
			return nil, err
		}
	}

	manifest, err := buildManifest(bundleDir, bundleID, spec.Payload.FnID)
	if err != nil {
		return nil, err
	}
	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, seeder.NewError(seeder.ErrCodeBundle, "failed to encode manifest", err)
	}
	if err := os.WriteFile(filepath.Join(bundleDir, ManifestFilename), manifestBytes, 0o644); err != nil {
		return nil, seeder.NewError(seeder.ErrCodeBundle, "failed to write manifest", err)
	}

	zipPath := filepath.Join(stagingRoot, "bundle.zip")
	if err := zipDir(zipPath, stagingRoot, "bundle"); err != nil {
		return nil, seeder.NewError(seeder.ErrCodeBundle, "failed to create bundle archive", err)
	}

	log.Debug().
		Str("bundle_id", bundleID).
		Str("zip", zipPath).
		Int("files", len(manifest.Files)).
		Msg("bundle built")

	return &Bundle{
		ID:        bundleID,
		ZipPath:   zipPath,
		Manifest:  *manifest,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// resolveTarget maps a logical forward-slash key to a path inside bundleDir,
// creating intermediate directories. Keys that are absolute, empty, or escape
// the bundle root are rejected.
func resolveTarget(bundleDir, logical string) (string, error) {
	cleaned := path.Clean(logical)
	if cleaned == "." || cleaned == "/" || strings.HasPrefix(cleaned, "/") ||
		cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", seeder.NewError(seeder.ErrCodeBundle,
			fmt.Sprintf("invalid bundle path %q", logical), nil)
	}
	target := filepath.Join(bundleDir, filepath.FromSlash(cleaned))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", seeder.NewError(seeder.ErrCodeBundle,
			fmt.Sprintf("failed to create directories for %q", logical), err)
	}
	return target, nil
}

func (b *Builder) copyDir(bundleDir, logical, src string) error {
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		return seeder.NewError(seeder.ErrCodeBundle,
			fmt.Sprintf("local directory %q could not be resolved (%s)", logical, src), err)
	}

	target, err := resolveTarget(bundleDir, logical)
	if err != nil {
		return err
	}

	copied := 0
	walkErr := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || isIgnored(p) {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		dst := filepath.Join(target, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := copyFileContents(p, dst); err != nil {
			return err
		}
		copied++
		return nil
	})
	if walkErr != nil {
		return seeder.NewError(seeder.ErrCodeBundle,
			fmt.Sprintf("failed to copy directory %q", logical), walkErr)
	}
	if copied == 0 {
		return seeder.NewError(seeder.ErrCodeBundle,
			fmt.Sprintf("directory %q (%s) is empty", logical, src), nil)
	}
	return nil
}

func (b *Builder) copyFile(bundleDir, logical, src string) error {
	info, err := os.Stat(src)
	if err != nil || info.IsDir() {
		return seeder.NewError(seeder.ErrCodeBundle,
			fmt.Sprintf("local file %q could not be resolved (%s)", logical, src), err)
	}

	target, err := resolveTarget(bundleDir, logical)
	if err != nil {
		return err
	}
	if err := copyFileContents(src, target); err != nil {
		return seeder.NewError(seeder.ErrCodeBundle,
			fmt.Sprintf("failed to copy file %q", logical), err)
	}
	return nil
}

func copyFileContents(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func isIgnored(p string) bool {
	normalized := filepath.ToSlash(p)
	for _, segment := range IgnoredPathSegments {
		if strings.Contains(normalized, segment) {
			return true
		}
	}
	return false
}

// buildManifest records every staged file with a SHA-256 checksum, keyed by
// bundle-relative forward-slash path.
func buildManifest(bundleDir, bundleID, fnID string) (*Manifest, error) {
	manifest := &Manifest{
		BundleID: bundleID,
		FnID:     fnID,
		Files:    make(map[string]string),
	}
	err := filepath.WalkDir(bundleDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(bundleDir, p)
		if err != nil {
			return err
		}
		sum, err := checksumFile(p)
		if err != nil {
			return err
		}
		manifest.Files[filepath.ToSlash(rel)] = sum
		return nil
	})
	if err != nil {
		return nil, seeder.NewError(seeder.ErrCodeBundle, "failed to build manifest", err)
	}
	return manifest, nil
}

func checksumFile(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// zipDir creates zipPath from all files under rootDir/baseDir, including
// baseDir as the top-level folder inside the archive. Entries are written in
// sorted order so identical content produces an identical entry layout.
func zipDir(zipPath, rootDir, baseDir string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	var entries []string
	err = filepath.WalkDir(filepath.Join(rootDir, baseDir), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			entries = append(entries, p)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(entries)

	for _, p := range entries {
		rel, err := filepath.Rel(rootDir, p)
		if err != nil {
			return err
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:   filepath.ToSlash(rel),
			Method: zip.Deflate,
		})
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		_, copyErr := io.Copy(w, f)
		f.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return zw.Close()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
