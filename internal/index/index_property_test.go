//go:build property

package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestIndexProperties verifies the listing matches the set of rendered sources.
func TestIndexProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(12345)

	properties := gopter.NewProperties(parameters)

	properties.Property("listing contains exactly the rendered sources", prop.ForAll(
		func(rendered []bool) bool {
			dir, err := os.MkdirTemp("", "index-prop-*")
			if err != nil {
				return false
			}
			defer os.RemoveAll(dir)

			var want []string
			for i, hasArtifact := range rendered {
				stem := fmt.Sprintf("diagram%03d", i)
				if err := os.WriteFile(filepath.Join(dir, stem+".puml"), nil, 0o644); err != nil {
					return false
				}
				if hasArtifact {
					if err := os.WriteFile(filepath.Join(dir, stem+".png"), nil, 0o644); err != nil {
						return false
					}
					want = append(want, stem+".png")
				}
			}

			b := NewBuilder(Options{Dir: dir, SourceExt: ".puml", ArtifactExt: ".png"})
			entries, err := b.Scan()
			if err != nil || len(entries) != len(want) {
				return false
			}
			for i, e := range entries {
				if e.Artifact != want[i] {
					return false
				}
			}

			doc, err := b.Build(context.Background())
			if err != nil {
				return false
			}
			return strings.Count(string(doc), "<li>") == len(want)
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("output differs only in the cache-busting token", prop.ForAll(
		func(a, b int64) bool {
			dir, err := os.MkdirTemp("", "index-prop-*")
			if err != nil {
				return false
			}
			defer os.RemoveAll(dir)

			for _, name := range []string{"x.puml", "x.png", "y.puml", "y.png"} {
				if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
					return false
				}
			}

			build := func(sec int64) string {
				out, err := NewBuilder(Options{
					Dir:         dir,
					SourceExt:   ".puml",
					ArtifactExt: ".png",
					Location:    time.UTC,
					Now:         func() time.Time { return time.Unix(sec, 0) },
				}).Build(context.Background())
				if err != nil {
					return ""
				}
				return tokenPattern.ReplaceAllString(string(out), "?t=X")
			}

			first := build(a)
			return first != "" && first == build(b)
		},
		gen.Int64Range(0, 1<<40),
		gen.Int64Range(0, 1<<40),
	))

	properties.TestingRun(t)
}
