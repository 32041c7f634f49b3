package merge

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/binzume/pmxmerge/pmx"
)

var ErrInvalidArgument = errors.New("merge: invalid argument")

// PatchedPath returns the default output path for base: "dir/name_patched.pmx".
func PatchedPath(base string) string {
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "_patched" + ext
}

func postLoadReport(m *pmx.Model, name string) {
	log.Printf("%s: %d vertices, %d bones, %d materials, %d morphs, %d rigids, %d joints.",
		name, len(m.Vertices), m.Bones.Len(), m.Materials.Len(), m.Morphs.Len(), m.RigidBodies.Len(), m.Joints.Len())
}

// ReportEmptyMorphs logs the vertex morphs of m that have no offsets.
func ReportEmptyMorphs(m *pmx.Model) {
	empty := m.EmptyMorphs()
	if len(empty) == 0 {
		log.Println("No empty vertex morphs found.")
		return
	}
	log.Println("The following vertex morphs are empty and will not have any effect on the model:")
	for _, name := range empty {
		log.Printf("  - %s (index: %d)", name, m.Morphs.IndexOf(name))
	}
}

// MergeFiles loads basePath and patchPath, merges the patch into the base and
// saves the result to outPath, which may be basePath itself. A relative outPath
// is resolved against the directory of an absolute basePath. The path actually
// written is returned. Nothing is written when an error is returned.
func MergeFiles(basePath, patchPath, outPath string, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	log.Printf("Starting merge: %s + %s -> %s", basePath, patchPath, outPath)
	log.Printf("Options: append: %v, update: %v", opts.Append, opts.Update)

	if basePath == "" || patchPath == "" || outPath == "" {
		return "", fmt.Errorf("%w: base, patch and output paths must be specified", ErrInvalidArgument)
	}
	if filepath.Clean(basePath) == filepath.Clean(patchPath) {
		return "", fmt.Errorf("%w: base and patch files cannot be the same", ErrInvalidArgument)
	}
	if !filepath.IsAbs(outPath) && filepath.IsAbs(basePath) {
		outPath = filepath.Join(filepath.Dir(basePath), outPath)
	}
	if filepath.Clean(outPath) == filepath.Clean(basePath) {
		log.Println("NOTICE: Overwriting the base model.")
	}

	base, err := pmx.Load(basePath)
	if err != nil {
		return "", fmt.Errorf("failed to load base model: %w", err)
	}
	postLoadReport(base, fmt.Sprintf("Base model '%s'", basePath))
	if err := Validate(base); err != nil {
		return "", fmt.Errorf("base model %s has duplicate or unnamed elements: %w", basePath, err)
	}

	patch, err := pmx.Load(patchPath)
	if err != nil {
		return "", fmt.Errorf("failed to load patch model: %w", err)
	}
	postLoadReport(patch, fmt.Sprintf("Patch model '%s'", patchPath))
	if err := Validate(patch); err != nil {
		return "", fmt.Errorf("patch model %s has duplicate or unnamed elements: %w", patchPath, err)
	}

	if _, err := MergeModels(base, patch, opts); err != nil {
		return "", err
	}

	if err := pmx.Save(outPath, base); err != nil {
		return "", fmt.Errorf("failed to save merged model to '%s': %w", outPath, err)
	}
	postLoadReport(base, fmt.Sprintf("Successfully saved '%s'", outPath))
	if pmx.Verbose {
		ReportEmptyMorphs(base)
	}
	return outPath, nil
}
