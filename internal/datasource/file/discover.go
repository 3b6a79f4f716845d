package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Pair is one source file and the target file it converts into.
type Pair struct {
	Source string
	Target string

	// Collides is set when an earlier pair of the same run already claimed
	// Target. The later conversion overwrites the earlier output.
	Collides bool
}

// ExpandHome replaces a leading "~" (alone or followed by a separator) with
// the current user's home directory. Other paths are returned unchanged.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~`+string(filepath.Separator)) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return filepath.Join(home, path[1:]), nil
}

// EnsureDir creates dir and any missing parents. It fails when the path
// exists but is not a directory.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s: %w", dir, errNotDir)
	}
	return nil
}

var errNotDir = errors.New("not a directory")

// MatchExt reports whether name ends with ext, ignoring case.
func MatchExt(name, ext string) bool {
	return strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext))
}

// TargetPath maps a source file to <targetDir>/<stem><targetExt>, where stem
// is the base name without its last extension. Leading dots do not start an
// extension, so ".tsv" keeps its whole name as the stem.
func TargetPath(source, targetDir, targetExt string) string {
	return filepath.Join(targetDir, stem(filepath.Base(source))+targetExt)
}

func stem(base string) string {
	trimmed := strings.TrimLeft(base, ".")
	i := strings.LastIndexByte(trimmed, '.')
	if i < 0 {
		return base
	}
	return base[:len(base)-len(trimmed)+i]
}

// Planner assigns flattened target paths to source files and remembers which
// targets are already claimed. It is not safe for concurrent use.
type Planner struct {
	targetDir string
	targetExt string
	claimed   map[string]string // target -> first source
}

// NewPlanner returns a Planner emitting into targetDir with targetExt.
func NewPlanner(targetDir, targetExt string) *Planner {
	return &Planner{targetDir: targetDir, targetExt: targetExt, claimed: map[string]string{}}
}

// Plan returns the Pair for source, flagging a collision when another source
// already maps to the same target.
func (p *Planner) Plan(source string) Pair {
	return p.PlanNamed(source, filepath.Base(source))
}

// PlanNamed is Plan for sources whose file name is not the last element of
// their path, such as URLs.
func (p *Planner) PlanNamed(source, name string) Pair {
	target := TargetPath(name, p.targetDir, p.targetExt)
	key := filepath.Clean(target)
	_, seen := p.claimed[key]
	if !seen {
		p.claimed[key] = source
	}
	return Pair{Source: source, Target: target, Collides: seen}
}

// FirstSource returns the source that first claimed target, if any.
func (p *Planner) FirstSource(target string) (string, bool) {
	s, ok := p.claimed[filepath.Clean(target)]
	return s, ok
}

// Walk visits every regular (non-directory) entry under root whose name ends
// with ext (case-insensitive), in lexical order, calling fn with its path.
//
// Unreadable subdirectories are logged and skipped; an unreadable root is an
// error. Walk stops early when ctx is done or fn returns an error; fn may
// return fs.SkipAll to stop without error.
func Walk(ctx context.Context, root, ext string, fn func(path string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			if path == root {
				return err
			}
			log.Printf("discover: skip %s: %v", path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !MatchExt(d.Name(), ext) {
			return nil
		}
		return fn(path)
	})
}

// Discover walks root and plans a Pair for every matching file.
func Discover(ctx context.Context, root, ext, targetDir, targetExt string) ([]Pair, error) {
	planner := NewPlanner(targetDir, targetExt)
	var pairs []Pair
	err := Walk(ctx, root, ext, func(path string) error {
		pairs = append(pairs, planner.Plan(path))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pairs, nil
}
